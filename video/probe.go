package video

import (
	"context"
	"fmt"
	"time"

	"github.com/vodloop/hlsfetch/errors"
	"gopkg.in/vansante/go-ffprobe.v2"
)

const probeTimeout = 60 * time.Second

// ProbeOutput verifies the merged container is readable media. The concat
// demuxer can exit zero while writing a broken stream, so exit status alone
// is not enough. Package var so tests can stub the ffprobe binary away.
var ProbeOutput = func(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	data, err := ffprobe.ProbeURL(ctx, path, "-loglevel", "error")
	return validateProbeData(path, data, err)
}

func validateProbeData(path string, data *ffprobe.ProbeData, err error) error {
	if err != nil {
		return errors.MergeFailed(fmt.Errorf("probing %s: %w", path, err))
	}
	if data == nil || data.Format == nil || data.Format.DurationSeconds <= 0 {
		return errors.MergeFailed(fmt.Errorf("probe of %s reports no duration", path))
	}
	if data.FirstVideoStream() == nil {
		return errors.MergeFailed(fmt.Errorf("probe of %s found no video stream", path))
	}
	return nil
}
