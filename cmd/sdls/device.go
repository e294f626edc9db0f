package main

import (
	"fmt"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/drivers/sdspi"
	"github.com/dargueta/sdmmc/drivers/spisim"
	"github.com/dargueta/sdmmc/file_systems/fat"
	log "github.com/fclairamb/go-log"
	golog "github.com/fclairamb/go-log/logrus"
	"github.com/fclairamb/go-log/noop"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

// session is everything opened for one command: the image, the card on top
// of it (unless reading raw), and the mounted volume.
type session struct {
	image       *sdmmc.ImageDevice
	card        *sdspi.Card
	volume      *fat.Volume
	volumeIndex int
	log         log.Logger
}

func newLogger(ctx *cli.Context) log.Logger {
	if !ctx.Bool("verbose") {
		return noop.NewNoOpLogger()
	}
	logger := logrus.New()
	logger.SetOutput(ctx.App.ErrWriter)
	logger.SetLevel(logrus.DebugLevel)
	return golog.NewWrap(logger)
}

func openSession(ctx *cli.Context, fs afero.Fs, logger log.Logger) (*session, error) {
	s := &session{log: logger}

	image, err := sdmmc.OpenImage(fs, ctx.String("image"))
	if err != nil {
		return nil, err
	}
	s.image = image

	var device sdmmc.BlockDevice = image
	if !ctx.Bool("raw") {
		device, err = s.initializeCard(ctx)
		if err != nil {
			image.Close()
			return nil, err
		}
	}

	device = &sdmmc.RetryingDevice{
		Device:  device,
		Retries: ctx.Int("read-retries"),
		OnRetry: func(index uint32, attempt int, err error) {
			s.log.Warn("Retrying block read", "block", index, "attempt", attempt, "err", err)
		},
	}

	options := []fat.Option{
		fat.WithLogger(s.log),
		fat.WithTimeSource(sdmmc.ClockTimeSource{}),
	}
	index := ctx.Int("volume")
	if index < 0 {
		s.volume, s.volumeIndex, err = fat.OpenFirstVolume(device, options...)
	} else {
		s.volume, err = fat.OpenVolume(device, index, options...)
		s.volumeIndex = index
	}
	if err != nil {
		image.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) initializeCard(ctx *cli.Context) (sdmmc.BlockDevice, error) {
	slug := ctx.String("card")
	sim, err := spisim.NewFromProfile(slug, s.image, s.image.TotalBlocks())
	if err != nil {
		return nil, err
	}

	card, err := sdspi.Initialize(
		sim,
		sdspi.DefaultBudget(),
		sdspi.WithLogger(s.log),
		sdspi.WithDataCRC(ctx.Bool("data-crc")),
	)
	if err != nil {
		return nil, fmt.Errorf("card initialization failed: %w", err)
	}
	s.card = card
	return card, nil
}

func (s *session) Close() error {
	return s.image.Close()
}
