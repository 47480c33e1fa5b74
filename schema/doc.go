// Package schema compiles a validated spec model into the wire schema
// shared with firmware clients.
//
// Compilation builds a proto3 file descriptor in process: every
// declared message becomes a payload type, fields numbered from 1 in
// declaration order, and fields with mapped constants become nested
// enums (a synthetic <FIELD>_UNSET zero value is injected when no
// constant covers zero). The envelope message comm_msg carries a msg
// union with connect_ver at field 1, one member per topic from field 3
// in declaration order (names are the topic lowercased with path
// separators folded to underscores), and the parameter members when
// parameters are declared. The ack token is a plain uint32 at field 2
// beside the union so any member, or no member at all, can carry one.
//
// The protocol version is the first four bytes, big-endian, of the
// SHA-1 digest of the deterministically serialized descriptor. Both
// ends compare versions during the handshake; any schema-visible
// change to the spec produces a new version.
//
// The compiled Schema also owns the envelope codec: Decode and Encode
// translate between wire bytes and Envelope values backed by dynamicpb
// messages, and Validate rejects payloads whose enum fields fall
// outside their compiled domains.
package schema
