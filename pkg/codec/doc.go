// Package codec provides snapshot serialization for the optical link.
//
// A snapshot travels in two layers. The packet layer turns a table-shaped
// snapshot into a compact binary form; the blob layer compresses and
// checksums a packet so it fits in a single DataMatrix symbol.
//
// # Packet Format
//
// Every packet starts with a fixed 16 byte header (all integers little-endian):
//
//	[Tag(4)="VSNP"][Version(1)][Beds(1)][Params(1)][Reserved(1)][Timestamp(8)]
//
// Version 2 follows the header with an optional packet identifier:
//
//	[HasID(1)][ID(8), only when HasID != 0]
//
// The body then walks the tables in order:
//
//	for each bed:       [Present(1)]
//	  if present, for each parameter:
//	                    [Has(1)][Value int32(4), only when Has != 0]
//
// Values are stored as round(value * scale). Parameters without a configured
// scale use 1, so TSKIN at scale 10 stores 36.8 as 368.
//
// The decoder checks the tag, then the version, then that the header counts
// equal the configured tables. Unknown tags and versions are rejected rather
// than guessed at. Bytes left over after the body are a shape error.
//
// # Blob Format
//
//	[Magic(4)="DMC1"][zlib(packet)][CRC32(4)]
//
// The CRC32 (IEEE, little-endian) is computed over the uncompressed packet.
// Unwrap distinguishes two failure classes:
//   - CorruptionError: wrong magic, blob too small, or the zlib stream does
//     not inflate
//   - IntegrityError: the stream inflates cleanly but the checksum disagrees
//
// # Usage
//
//	c, err := codec.New(tables.Default(), codec.DefaultVersion, codec.DefaultCompressLevel)
//	if err != nil {
//	    return err
//	}
//
//	blob, _, err := c.Pack(snapshot)
//	if err != nil {
//	    return err
//	}
//
//	decoded, version, err := c.Unpack(blob)
//	if errors.Is(err, codec.ErrIntegrity) {
//	    // bad read, try the next capture
//	}
//
// # Thread Safety
//
// PacketCodec, BlobCodec and Codec hold no mutable state and are safe for
// concurrent use.
package codec
