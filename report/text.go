package report

import (
	"fmt"
	"io"
)

// TextSink writes one human-readable line per event.
type TextSink struct {
	writer io.Writer
	// ShowTime prefixes every line with the event's timestamp.
	ShowTime bool
}

func NewTextSink(writer io.Writer) *TextSink {
	return &TextSink{writer: writer}
}

func (s *TextSink) Emit(event Event) error {
	var line string
	switch event.Kind {
	case KindCardReady:
		line = fmt.Sprintf("Card initialized: %s, %d bytes", event.Name, event.Size)
	case KindVolumeMounted:
		line = fmt.Sprintf("Mounted %s volume (%s), %d bytes", event.Name, event.Detail, event.Size)
	case KindEntry:
		line = fmt.Sprintf("%-12s %10d %s %s", event.Name, event.Size, event.Attributes, event.Detail)
	case KindFailure:
		line = fmt.Sprintf("Error: %s: %s", event.Name, event.Detail)
	default:
		line = fmt.Sprintf("%s: %s %d %s", event.Kind, event.Name, event.Size, event.Detail)
	}

	if s.ShowTime {
		line = event.Time.String() + " " + line
	}
	_, err := fmt.Fprintln(s.writer, line)
	return err
}

func (s *TextSink) Flush() error {
	return nil
}
