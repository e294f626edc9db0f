package sdmmc

import (
	"github.com/dargueta/sdmmc/errors"
)

// RetryingDevice retries transient read failures on the device it wraps, such
// as a missed data start token. Transport failures and anything else that
// errors.IsRetryable rejects are returned immediately.
type RetryingDevice struct {
	Device BlockDevice
	// Retries is the number of additional attempts after the first failure.
	Retries int
	// OnRetry, if not nil, is called before every retry with the failed attempt
	// number (starting at 1) and its error.
	OnRetry func(index uint32, attempt int, err error)
}

// ReadBlock reads block `index`, retrying up to Retries times.
func (r *RetryingDevice) ReadBlock(index uint32, dst *Sector) error {
	var err error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		err = r.Device.ReadBlock(index, dst)
		if err == nil || !errors.IsRetryable(err) {
			return err
		}
		if r.OnRetry != nil && attempt < r.Retries {
			r.OnRetry(index, attempt+1, err)
		}
	}
	return err
}
