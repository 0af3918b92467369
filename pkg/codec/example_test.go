package codec_test

import (
	"fmt"
	"log"

	"github.com/ssargent/vitalgap/pkg/codec"
	"github.com/ssargent/vitalgap/pkg/tables"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

// ExampleCodec demonstrates packing a snapshot into a blob and back
func ExampleCodec() {
	c, err := codec.New(tables.Default(), codec.DefaultVersion, codec.DefaultCompressLevel)
	if err != nil {
		log.Fatal(err)
	}

	s := c.Packet.Tables().NewSnapshot(1719043200000)
	s.PacketID = vitals.Int64(7)
	s.Set("BED01", "HR", 72)
	s.Set("BED01", "TSKIN", 36.8)

	blob, packet, err := c.Pack(s)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Packet: %d bytes\n", len(packet))

	decoded, version, err := c.Unpack(blob)
	if err != nil {
		log.Fatal(err)
	}
	hr, _ := decoded.Value("BED01", "HR")
	tskin, _ := decoded.Value("BED01", "TSKIN")

	fmt.Printf("Version: %d\n", version)
	fmt.Printf("Packet ID: %d\n", *decoded.PacketID)
	fmt.Printf("Timestamp: %d\n", decoded.TimestampMs)
	fmt.Printf("BED01 HR=%v TSKIN=%v\n", hr, tskin)
	fmt.Printf("Beds present: %v\n", len(decoded.Payload()))

	// Output:
	// Packet: 59 bytes
	// Version: 2
	// Packet ID: 7
	// Timestamp: 1719043200000
	// BED01 HR=72 TSKIN=36.8
	// Beds present: 1
}

// ExamplePacketCodec_errorHandling demonstrates rejecting a foreign packet
func ExamplePacketCodec_errorHandling() {
	pc, err := codec.NewPacketCodec(tables.Default())
	if err != nil {
		log.Fatal(err)
	}

	_, _, _, err = pc.Decode([]byte("XXXX\x02\x06\x14\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	if err != nil {
		fmt.Printf("Decode error: %v\n", err)
	}

	_, _, _, err = pc.Decode([]byte("VSNP\x02"))
	if err != nil {
		fmt.Printf("Decode error: %v\n", err)
	}

	// Output:
	// Decode error: bad packet tag: "XXXX"
	// Decode error: packet truncated: need 16 bytes, have 5
}
