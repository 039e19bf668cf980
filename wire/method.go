package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// MethodDescriptor names a runtime-side method to call with a message, for
// SEND_EXTENDED traffic. It travels as
// "class\tmethod\tN\targ1\t...\targN\t".
type MethodDescriptor struct {
	Class  string
	Method string
	Args   []string
}

// Encode renders the descriptor and checks it fits in a record.
func (d MethodDescriptor) Encode() (string, error) {
	if d.Class == "" || d.Method == "" {
		return "", fmt.Errorf("%w: class and method are required", ErrMalformedDescriptor)
	}

	var sb strings.Builder
	sb.WriteString(d.Class)
	sb.WriteByte('\t')
	sb.WriteString(d.Method)
	sb.WriteByte('\t')
	sb.WriteString(strconv.Itoa(len(d.Args)))
	sb.WriteByte('\t')

	for _, arg := range d.Args {
		if strings.ContainsAny(arg, "\t\x00") {
			return "", fmt.Errorf("%w: argument %q contains a separator",
				ErrMalformedDescriptor, arg)
		}

		sb.WriteString(arg)
		sb.WriteByte('\t')
	}

	s := sb.String()
	if len(s) > MethodCapacity {
		return "", fmt.Errorf("%w: %d bytes", ErrDescriptorTooLong, len(s))
	}

	return s, nil
}

// FullName returns "class.method".
func (d MethodDescriptor) FullName() string {
	return d.Class + "." + d.Method
}

// ParseMethodDescriptor parses the output of MethodDescriptor.Encode.
func ParseMethodDescriptor(s string) (MethodDescriptor, error) {
	fields := strings.Split(s, "\t")
	if len(fields) < 3 {
		return MethodDescriptor{}, fmt.Errorf("%w: %q", ErrMalformedDescriptor, s)
	}

	n, err := strconv.Atoi(fields[2])
	if err != nil || n < 0 {
		return MethodDescriptor{}, fmt.Errorf("%w: bad argument count %q",
			ErrMalformedDescriptor, fields[2])
	}

	rest := fields[3:]
	if len(rest) > 0 && rest[len(rest)-1] == "" {
		rest = rest[:len(rest)-1]
	}

	if len(rest) != n {
		return MethodDescriptor{}, fmt.Errorf("%w: want %d arguments, have %d",
			ErrMalformedDescriptor, n, len(rest))
	}

	d := MethodDescriptor{Class: fields[0], Method: fields[1]}
	if d.Class == "" || d.Method == "" {
		return MethodDescriptor{}, fmt.Errorf("%w: %q", ErrMalformedDescriptor, s)
	}

	if n > 0 {
		d.Args = append([]string(nil), rest...)
	}

	return d, nil
}
