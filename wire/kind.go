package wire

import "fmt"

// Kind tells the receiver how to interpret a record.
type Kind int32

// The message kinds.
const (
	KindSend Kind = iota + 1
	KindAllSend
	KindInit
	KindFinalize
	KindSendExtended
	KindSplitBegin
	KindSplitContinue
	KindSplitEnd
	KindNoForward
)

// InitRefused is the job ID of an INIT acknowledgement that turns the worker
// away.
const InitRefused int32 = -1

var kindNames = map[Kind]string{
	KindSend:          "SEND",
	KindAllSend:       "ALL_SEND",
	KindInit:          "INIT",
	KindFinalize:      "FINALIZE",
	KindSendExtended:  "SEND_EXTENDED",
	KindSplitBegin:    "SPLIT_BEGIN",
	KindSplitContinue: "SPLIT_CONTINUE",
	KindSplitEnd:      "SPLIT_END",
	KindNoForward:     "NO_FORWARD",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("Kind(%d)", int32(k))
}

// IsSegment is true for the kinds that follow a SPLIT_BEGIN.
func (k Kind) IsSegment() bool {
	return k == KindSplitContinue || k == KindSplitEnd
}

// CarriesData is true for the kinds whose payload is user data.
func (k Kind) CarriesData() bool {
	switch k {
	case KindSend, KindAllSend, KindSendExtended, KindNoForward, KindSplitBegin:
		return true
	}

	return false
}
