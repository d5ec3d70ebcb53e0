package clients

import (
	"context"
	"fmt"
	"os"

	"github.com/vodloop/hlsfetch/log"
)

// DownloadCover fetches the job's cover image to destPath. Best effort: the
// driver logs a failure here but never fails the job over artwork.
func DownloadCover(ctx context.Context, fetcher Fetcher, jobID, coverURL, destPath string) error {
	if coverURL == "" {
		return nil
	}
	status, body, err := fetcher.Get(ctx, coverURL)
	if err != nil {
		return err
	}
	if status != 200 {
		return fmt.Errorf("cover %s returned status %d", coverURL, status)
	}
	if err := os.WriteFile(destPath, body, 0644); err != nil {
		return err
	}
	log.Log(jobID, "cover downloaded", "url", coverURL, "path", destPath)
	return nil
}
