// Package report turns what happens while reading a card into a stream of
// status events: the card coming up, volumes being mounted, directory
// entries, and failures. Every event is stamped by the injected time source.
// Sinks decide how events are rendered.
package report

import (
	"fmt"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/file_systems/fat"
)

type Kind int

const (
	KindCardReady Kind = iota
	KindVolumeMounted
	KindEntry
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindCardReady:
		return "card"
	case KindVolumeMounted:
		return "volume"
	case KindEntry:
		return "entry"
	case KindFailure:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is a single status report. Which fields are set depends on the kind:
//
//   - KindCardReady: Name is the card type, Size its capacity in bytes.
//   - KindVolumeMounted: Name is the FAT variant, Size the volume size in
//     bytes, Detail the volume index and label.
//   - KindEntry: Name, Size, and Attributes describe the entry, Detail is its
//     modification time.
//   - KindFailure: Name is what was being attempted, Detail the error.
type Event struct {
	Time       sdmmc.Timestamp
	Kind       Kind
	Name       string
	Size       uint64
	Attributes string
	Detail     string
}

// Sink renders events.
type Sink interface {
	Emit(event Event) error
	// Flush writes out anything the sink has buffered.
	Flush() error
}

// Reporter builds events and passes them to a sink.
type Reporter struct {
	source sdmmc.TimeSource
	sink   Sink
}

func New(source sdmmc.TimeSource, sink Sink) *Reporter {
	return &Reporter{source: source, sink: sink}
}

func (r *Reporter) emit(event Event) error {
	event.Time = r.source.GetTimestamp()
	return r.sink.Emit(event)
}

// CardReady reports a successfully initialized card.
func (r *Reporter) CardReady(cardType string, sizeBytes uint64) error {
	return r.emit(Event{Kind: KindCardReady, Name: cardType, Size: sizeBytes})
}

// VolumeMounted reports a mounted volume and its label.
func (r *Reporter) VolumeMounted(index int, volume *fat.Volume, label string) error {
	bootSector := volume.BootSector()
	detail := fmt.Sprintf("index %d", index)
	if label != "" {
		detail += fmt.Sprintf(", label %q", label)
	}
	return r.emit(Event{
		Kind:   KindVolumeMounted,
		Name:   bootSector.Variant.String(),
		Size:   uint64(bootSector.TotalSectors) * sdmmc.BlockSize,
		Detail: detail,
	})
}

// Entry reports one directory entry.
func (r *Reporter) Entry(entry fat.DirEntry) error {
	detail := ""
	if !entry.LastModified.IsZero() {
		detail = entry.LastModified.String()
	}
	return r.emit(Event{
		Kind:       KindEntry,
		Name:       entry.Name(),
		Size:       uint64(entry.FileSize),
		Attributes: entry.AttributeString(),
		Detail:     detail,
	})
}

// Failure reports an error that ended `operation`.
func (r *Reporter) Failure(operation string, err error) error {
	return r.emit(Event{Kind: KindFailure, Name: operation, Detail: err.Error()})
}

// Close flushes the sink.
func (r *Reporter) Close() error {
	return r.sink.Flush()
}
