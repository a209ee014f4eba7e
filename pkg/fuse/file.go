package fuse

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"

	"replistore/pkg/coordinator"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

var _ fs.NodeGetattrer = (*ReplicaFile)(nil)
var _ fs.NodeSetattrer = (*ReplicaFile)(nil)
var _ fs.NodeOpener = (*ReplicaFile)(nil)
var _ fs.NodeReader = (*ReplicaFile)(nil)
var _ fs.NodeWriter = (*ReplicaFile)(nil)
var _ fs.NodeFlusher = (*ReplicaFile)(nil)
var _ fs.NodeFsyncer = (*ReplicaFile)(nil)

// ReplicaFile buffers a whole blob. Reads are served from the buffer, writes
// modify it, and Flush uploads it as a new version of the file.
type ReplicaFile struct {
	fs.Inode
	name   string
	store  Store
	logger *zap.Logger

	mu     sync.Mutex
	data   []byte
	loaded bool
	dirty  bool
}

func newReplicaFile(name string, store Store, logger *zap.Logger) *ReplicaFile {
	return &ReplicaFile{
		name:   name,
		store:  store,
		logger: logger.With(zap.String("filename", name)),
	}
}

func (f *ReplicaFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if errno := f.attr(ctx, &out.Attr); errno != fs.OK {
		return errno
	}
	out.SetTimeout(attrTimeout)
	return fs.OK
}

func (f *ReplicaFile) attr(ctx context.Context, attr *fuse.Attr) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	if errno := f.loadLocked(ctx); errno != fs.OK {
		return errno
	}
	f.fillAttr(attr)
	return fs.OK
}

// Setattr handles truncation; other attributes are fixed.
func (f *ReplicaFile) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size, ok := in.GetSize(); ok {
		if size == 0 {
			f.data, f.loaded, f.dirty = nil, true, true
		} else {
			if errno := f.loadLocked(ctx); errno != fs.OK {
				return errno
			}
			f.resizeLocked(int64(size))
			f.dirty = true
		}
	}

	f.fillAttr(&out.Attr)
	return fs.OK
}

func (f *ReplicaFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_TRUNC != 0 {
		f.truncate()
		return nil, 0, fs.OK
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Always refetch on open so a reader sees the latest copy
	if !f.dirty {
		f.loaded = false
	}
	if errno := f.loadLocked(ctx); errno != fs.OK {
		return nil, 0, errno
	}
	return nil, 0, fs.OK
}

func (f *ReplicaFile) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if errno := f.loadLocked(ctx); errno != fs.OK {
		return nil, errno
	}

	if off >= int64(len(f.data)) {
		return fuse.ReadResultData(nil), fs.OK
	}
	end := off + int64(len(dest))
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}

	out := make([]byte, end-off)
	copy(out, f.data[off:end])
	return fuse.ReadResultData(out), fs.OK
}

func (f *ReplicaFile) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if errno := f.loadLocked(ctx); errno != fs.OK {
		return 0, errno
	}

	if end := off + int64(len(data)); end > int64(len(f.data)) {
		f.resizeLocked(end)
	}
	copy(f.data[off:], data)
	f.dirty = true

	return uint32(len(data)), fs.OK
}

// Flush uploads pending writes. A partially replicated upload still succeeds;
// an upload that stored no copy fails with EIO.
func (f *ReplicaFile) Flush(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty {
		return fs.OK
	}

	result, err := f.store.Upload(ctx, f.name, f.data)
	if err != nil {
		f.logger.Error("Failed to upload file", zap.Error(err))
		return syscall.EIO
	}
	if result.Stored == 0 {
		f.logger.Error("Upload stored no copies")
		return syscall.EIO
	}
	if result.Partial() {
		f.logger.Warn("File partially replicated",
			zap.Int("stored", result.Stored),
			zap.Int("required", result.Required))
	}

	f.dirty = false
	return fs.OK
}

func (f *ReplicaFile) Fsync(ctx context.Context, fh fs.FileHandle, flags uint32) syscall.Errno {
	return f.Flush(ctx, fh)
}

func (f *ReplicaFile) truncate() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data, f.loaded, f.dirty = nil, true, true
}

func (f *ReplicaFile) loadLocked(ctx context.Context) syscall.Errno {
	if f.loaded {
		return fs.OK
	}

	result, err := f.store.Download(ctx, f.name)
	if errors.Is(err, coordinator.ErrFileUnavailable) {
		f.logger.Warn("File unavailable, no active node holds it")
		return syscall.EIO
	}
	if err != nil {
		f.logger.Error("Failed to download file", zap.Error(err))
		return syscall.EIO
	}

	f.data = result.Data
	f.loaded = true
	return fs.OK
}

func (f *ReplicaFile) resizeLocked(size int64) {
	if size <= int64(len(f.data)) {
		f.data = f.data[:size]
		return
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
}

func (f *ReplicaFile) fillAttr(attr *fuse.Attr) {
	attr.Mode = 0644 | syscall.S_IFREG
	attr.Size = uint64(len(f.data))
	attr.Nlink = 1
	attr.Uid = uint32(os.Getuid())
	attr.Gid = uint32(os.Getgid())
}
