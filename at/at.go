package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = ">"

	// Response Codes. OK and ERROR carry their line ending so that a payload
	// merely containing the word does not end a transaction early.
	OK       = "OK" + CRLF
	ERROR    = "ERROR" + CRLF
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// Intermediate result prefixes
	OpenResult   = CRLF + "+CAOPEN:"
	RecvData     = "+CARECV:"
	SocketState  = "+CASTATE:"
	SSLConfig    = "+CSSLCFG:"
	ResetMarker  = CRLF + "SMS Ready" + CRLF
	NullByte     = 0x00
	LineFeed     = '\n'
	FieldDivider = ','

	// URCs (Unsolicited Result Codes)
	UrcRecv        = "+CARECV:"
	UrcDataInd     = "+CADATAIND:"
	UrcState       = "+CASTATE:"
	UrcNetworkName = "*PSNWID:"
	UrcNetworkTime = "*PSUTTZ:"
	UrcTimeZone    = "+CTZV:"
	UrcDST         = "DST: "

	// Init commands
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdVerboseErrors = "AT+CMEE=2"
	CmdLocalTime     = "AT+CLTS=1"
	CmdBatteryChkOff = "AT+CBATCHK=0"

	// Socket status queries
	CmdRecvQuery  = "AT+CARECV?"
	CmdStateQuery = "AT+CASTATE?"

	// TLSVersion12 is the only sslversion value the driver configures.
	TLSVersion12 = 3
	// PDPIndex is the application PDP context sockets are opened on.
	PDPIndex = 0
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CASTATE: 0,1)
	TypePrompt                     // CASEND input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}
