package protocol

const (
	// Sentinel terminates every frame.
	Sentinel byte = 0x00

	// ReportSeparator splits the correlating id from the text of a report.
	ReportSeparator = "€"

	lenSeq    int = 4
	lenOpcode int = 1
	lenUint32 int = 4
	lenFloat  int = 4

	// HeaderLen is the fixed header size (sequence id + opcode).
	HeaderLen int = lenSeq + lenOpcode

	// Smallest valid frame: header and sentinel.
	minFrameLen int = HeaderLen + 1

	interfaceSeparator = ","
)
