package camera

import (
	"context"
	"fmt"
	"io"
	"time"
)

// MJPEGBoundary separates parts of a multipart/x-mixed-replace stream.
const MJPEGBoundary = "frame"

// MJPEGContentType is the Content-Type of a stream written by StreamMJPEG.
const MJPEGContentType = "multipart/x-mixed-replace; boundary=" + MJPEGBoundary

// WriteMJPEGPart writes one JPEG as a multipart part.
func WriteMJPEGPart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", MJPEGBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// StreamMJPEG polls cell and writes every new frame to w until ctx is done
// or a write fails. flush is called after each part.
func StreamMJPEG(ctx context.Context, w io.Writer, flush func(), cell *Cell, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if cell.Seq() == last {
				continue
			}
			frame, err := cell.Latest()
			if err != nil {
				continue
			}
			last = frame.Seq
			if err := WriteMJPEGPart(w, frame.Data); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
	}
}
