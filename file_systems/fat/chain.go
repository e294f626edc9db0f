package fat

import (
	"fmt"
	"io"

	"github.com/dargueta/sdmmc/errors"
)

// ChainWalker follows a cluster chain one cluster at a time. Create one with
// [Volume.WalkChain].
type ChainWalker struct {
	volume  *Volume
	next    ClusterID
	started bool
	done    bool
	steps   uint32
	err     error
}

// WalkChain returns a walker over the chain beginning at `start`. The first
// call to Next returns `start` itself.
func (v *Volume) WalkChain(start ClusterID) *ChainWalker {
	return &ChainWalker{volume: v, next: start}
}

// Next returns the next cluster in the chain, or io.EOF after the last one.
//
// A chain visiting more clusters than the volume has must contain a loop, and
// is reported as [errors.KindBrokenChain]. Once Next has returned an error it
// keeps returning it.
func (w *ChainWalker) Next() (ClusterID, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.done {
		return 0, io.EOF
	}

	if w.started {
		next, ok, err := w.volume.NextCluster(w.next)
		if err != nil {
			w.err = err
			return 0, err
		}
		if !ok {
			w.done = true
			return 0, io.EOF
		}
		w.next = next
	} else {
		w.started = true
		if !w.volume.bootSector.IsValidCluster(w.next) {
			w.err = errors.ErrBrokenChain.WithMessage(
				fmt.Sprintf("chain starts at invalid cluster %d", w.next))
			return 0, w.err
		}
	}

	if w.steps >= w.volume.bootSector.TotalClusters {
		w.err = errors.ErrBrokenChain.WithMessage(
			fmt.Sprintf("chain is longer than the volume's %d clusters", w.volume.bootSector.TotalClusters))
		return 0, w.err
	}
	w.steps++
	return w.next, nil
}

// Steps returns how many clusters the walker has returned so far.
func (w *ChainWalker) Steps() uint32 {
	return w.steps
}

// Chain returns every cluster in the chain starting at `start`, in order.
func (v *Volume) Chain(start ClusterID) ([]ClusterID, error) {
	walker := v.WalkChain(start)
	var clusters []ClusterID
	for {
		cluster, err := walker.Next()
		if err == io.EOF {
			return clusters, nil
		} else if err != nil {
			return clusters, err
		}
		clusters = append(clusters, cluster)
	}
}
