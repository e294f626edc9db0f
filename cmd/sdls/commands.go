package main

import (
	"fmt"
	"io"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/drivers/spisim"
	"github.com/dargueta/sdmmc/file_systems/fat"
	"github.com/dargueta/sdmmc/report"
	log "github.com/fclairamb/go-log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

func newReporter(ctx *cli.Context) (*report.Reporter, error) {
	var sink report.Sink
	switch format := ctx.String("format"); format {
	case "text":
		sink = report.NewTextSink(ctx.App.Writer)
	case "csv":
		sink = report.NewCSVSink(ctx.App.Writer)
	default:
		return nil, fmt.Errorf("unknown output format %q, expected text or csv", format)
	}
	return report.New(sdmmc.ClockTimeSource{}, sink), nil
}

// reportFailure reports `err` and logs it if the report itself can't be
// written, so the original error is never lost.
func reportFailure(reporter *report.Reporter, logger log.Logger, operation string, err error) {
	if reportErr := reporter.Failure(operation, err); reportErr != nil {
		logger.Error("Failed to report error", "operation", operation, "err", err, "reportErr", reportErr)
	}
}

func listDirectory(ctx *cli.Context, fs afero.Fs) (err error) {
	reporter, err := newReporter(ctx)
	if err != nil {
		return err
	}
	logger := newLogger(ctx)
	defer func() {
		if closeErr := reporter.Close(); closeErr != nil {
			logger.Error("Failed to flush report", "err", closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}()

	s, err := openSession(ctx, fs, logger)
	if err != nil {
		reportFailure(reporter, logger, "open "+ctx.String("image"), err)
		return err
	}
	defer s.Close()

	if s.card != nil {
		size, err := s.card.CardSizeBytes()
		if err != nil {
			reportFailure(reporter, logger, "read card size", err)
			return err
		}
		if err = reporter.CardReady(s.card.Type().String(), size); err != nil {
			return err
		}
	}

	label, err := s.volume.Label()
	if err != nil {
		logger.Warn("Failed to read volume label", "err", err)
	}
	if err = reporter.VolumeMounted(s.volumeIndex, s.volume, label); err != nil {
		return err
	}

	path := ctx.Args().First()
	dir, err := s.volume.OpenDirPath(path)
	if err != nil {
		reportFailure(reporter, logger, "open "+path, err)
		return err
	}

	err = s.volume.ForEachEntry(dir, reporter.Entry)
	if err != nil {
		reportFailure(reporter, logger, "list "+dir.String(), err)
		return err
	}
	return nil
}

func showInfo(ctx *cli.Context, fs afero.Fs) error {
	s, err := openSession(ctx, fs, newLogger(ctx))
	if err != nil {
		return err
	}
	defer s.Close()

	out := ctx.App.Writer
	if s.card != nil {
		size, err := s.card.CardSizeBytes()
		if err != nil {
			return err
		}
		printField(out, "Card type", s.card.Type())
		printField(out, "Card size", fmt.Sprintf("%d bytes", size))
	}

	bs := s.volume.BootSector()
	label, err := s.volume.Label()
	if err != nil {
		return err
	}

	printField(out, "Volume", fmt.Sprintf("%d (%s)", s.volumeIndex, bs.Variant))
	printField(out, "Label", label)
	printField(out, "Serial number", fmt.Sprintf("%04X-%04X", bs.SerialNumber>>16, bs.SerialNumber&0xFFFF))
	printField(out, "OEM name", bs.OEM())
	printField(out, "Start sector", bs.BaseLBA)
	printField(out, "Total sectors", bs.TotalSectors)
	printField(out, "Bytes per cluster", bs.BytesPerCluster())
	printField(out, "Total clusters", bs.TotalClusters)
	printField(out, "FAT start", bs.FATStart)
	printField(out, "Sectors per FAT", bs.SectorsPerFAT)
	printField(out, "Number of FATs", bs.NumFATs)
	if bs.Variant == fat.FAT32 {
		printField(out, "Root cluster", bs.RootCluster)
		info, err := s.volume.FSInfo()
		if err != nil {
			s.log.Warn("Failed to read FSInfo sector", "err", err)
		} else if info.FreeClustersKnown() {
			printField(out, "Free clusters", info.FreeClusters)
		}
	} else {
		printField(out, "Root directory", fmt.Sprintf("%d sectors at %d", bs.RootDirSectors, bs.RootDirStart))
	}
	printField(out, "Data start", bs.DataStart)
	return nil
}

func printField(out io.Writer, name string, value interface{}) {
	fmt.Fprintf(out, "%-18s %v\n", name+":", value)
}

func listProfiles(ctx *cli.Context) error {
	for _, slug := range spisim.ProfileSlugs() {
		profile, err := spisim.GetProfile(slug)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "%-12s %-5s %s\n", profile.Slug, profile.Kind, profile.Name)
	}
	return nil
}
