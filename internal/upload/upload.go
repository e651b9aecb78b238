// Package upload implements the file upload pipeline: chunked,
// back-pressured transfer of local files to the remote session over the
// transport's auxiliary data channel.
package upload

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/selkies-project/selkies-core/internal/logging"
	"github.com/selkies-project/selkies-core/internal/wire"
)

var log = logging.L("upload")

// pauseOnBackpressure is how long a sender yields after observing the aux
// channel is near its high water mark, before attempting the next chunk.
const pauseOnBackpressure = 50 * time.Millisecond

// Transport is the subset of transport.Manager the upload pipeline depends
// on, kept narrow so it can be faked in tests.
type Transport interface {
	SendDataChannelMessage(data []byte) error
	CreateAuxDataChannel() bool
	WaitForAuxChannelOpen(ctx context.Context) error
	SendAuxChannelData(data []byte) error
	IsAuxBufferNearThreshold() bool
	AwaitAuxBufferDrain(ctx context.Context) error
}

// Status enumerates the progress event lifecycle for one file.
type Status string

const (
	StatusStart    Status = "start"
	StatusProgress Status = "progress"
	StatusEnd      Status = "end"
	StatusError    Status = "error"
	StatusWarning  Status = "warning"
)

// ProgressEvent reports the upload pipeline's progress for one file, or a
// batch-level warning (e.g. the aux channel was unavailable).
type ProgressEvent struct {
	TransferID string
	Path       string
	Status     Status
	BytesSent  int64
	TotalSize  int64
	Err        error
}

// Pipeline drives one or more file uploads sequentially over a Transport.
type Pipeline struct {
	transport  Transport
	onProgress func(ProgressEvent)
}

// New creates a Pipeline. onProgress may be nil.
func New(t Transport, onProgress func(ProgressEvent)) *Pipeline {
	return &Pipeline{transport: t, onProgress: onProgress}
}

func (p *Pipeline) report(ev ProgressEvent) {
	if p.onProgress != nil {
		p.onProgress(ev)
	}
}

// UploadPaths uploads the given local paths. Each directory entry is walked
// depth-first; each resulting file is transferred sequentially over the
// same aux channel, which is created once for the whole batch.
//
// If the aux channel cannot be created (one is already in use), the batch
// is rejected with a single StatusWarning event and no aux channel
// mutation occurs.
func (p *Pipeline) UploadPaths(ctx context.Context, paths []string) error {
	transferID := uuid.NewString()

	if !p.transport.CreateAuxDataChannel() {
		p.report(ProgressEvent{TransferID: transferID, Status: StatusWarning, Err: fmt.Errorf("upload: aux channel already in use")})
		return fmt.Errorf("upload: aux channel already in use")
	}

	if err := p.transport.WaitForAuxChannelOpen(ctx); err != nil {
		return fmt.Errorf("upload: aux channel did not open: %w", err)
	}

	files, err := expandToFiles(paths)
	if err != nil {
		return err
	}

	log.Info("upload batch starting", "transferId", transferID, "fileCount", len(files))
	for _, f := range files {
		if err := p.uploadFile(ctx, transferID, f); err != nil {
			return err
		}
	}
	return nil
}

// expandToFiles walks each input path depth-first, collecting regular
// files. Empty directories are silently skipped.
func expandToFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("upload: walking %q: %w", root, err)
		}
	}
	return files, nil
}

// wirePath normalises a local filesystem path to the wire protocol's
// forward-slash form, stripping any leading separator.
func wirePath(path string) string {
	slashed := filepath.ToSlash(path)
	return strings.TrimPrefix(slashed, "/")
}

func (p *Pipeline) uploadFile(ctx context.Context, transferID, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return p.fail(transferID, path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return p.fail(transferID, path, err)
	}

	remotePath := wirePath(path)
	log.Info("upload file starting", "transferId", transferID, "path", remotePath, "size", humanize.Bytes(uint64(info.Size())))
	p.report(ProgressEvent{TransferID: transferID, Path: remotePath, Status: StatusStart, TotalSize: info.Size()})

	if err := p.transport.SendDataChannelMessage([]byte(wire.EncodeFileUploadStart(remotePath, info.Size()))); err != nil {
		return p.fail(transferID, remotePath, err)
	}

	var sent int64
	buf := make([]byte, wire.MaxChunkPayload)
	for {
		select {
		case <-ctx.Done():
			return p.fail(transferID, remotePath, ctx.Err())
		default:
		}

		n, readErr := file.Read(buf)
		if n > 0 {
			frame, encErr := wire.EncodeChunk(buf[:n])
			if encErr != nil {
				return p.fail(transferID, remotePath, encErr)
			}
			if sendErr := p.transport.SendAuxChannelData(frame); sendErr != nil {
				return p.fail(transferID, remotePath, sendErr)
			}
			sent += int64(n)
			p.report(ProgressEvent{TransferID: transferID, Path: remotePath, Status: StatusProgress, BytesSent: sent, TotalSize: info.Size()})

			if p.transport.IsAuxBufferNearThreshold() {
				time.Sleep(pauseOnBackpressure)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return p.fail(transferID, remotePath, readErr)
		}
	}

	if err := p.transport.AwaitAuxBufferDrain(ctx); err != nil {
		return p.fail(transferID, remotePath, err)
	}

	if err := p.transport.SendDataChannelMessage([]byte(wire.EncodeFileUploadEnd(remotePath))); err != nil {
		return p.fail(transferID, remotePath, err)
	}
	log.Info("upload file complete", "transferId", transferID, "path", remotePath, "sent", humanize.Bytes(uint64(sent)))
	p.report(ProgressEvent{TransferID: transferID, Path: remotePath, Status: StatusEnd, BytesSent: sent, TotalSize: info.Size()})
	return nil
}

func (p *Pipeline) fail(transferID, remotePath string, cause error) error {
	_ = p.transport.SendDataChannelMessage([]byte(wire.EncodeFileUploadError(remotePath, cause.Error())))
	log.Warn("upload file failed", "transferId", transferID, "path", remotePath, "error", cause)
	p.report(ProgressEvent{TransferID: transferID, Path: remotePath, Status: StatusError, Err: cause})
	return fmt.Errorf("upload: %q: %w", remotePath, cause)
}
