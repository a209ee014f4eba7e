package fuse

import (
	"context"
	"os"
	"sort"
	"syscall"
	"time"

	"replistore/pkg/coordinator"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

// Store is the part of the coordinator the mount needs.
type Store interface {
	Upload(ctx context.Context, filename string, data []byte) (coordinator.UploadResult, error)
	Download(ctx context.Context, filename string) (coordinator.DownloadResult, error)
	ListFiles(ctx context.Context) ([]coordinator.NodeListing, error)
}

var _ Store = (*coordinator.Coordinator)(nil)

var _ fs.NodeGetattrer = (*ReplicaFS)(nil)
var _ fs.NodeReaddirer = (*ReplicaFS)(nil)
var _ fs.NodeLookuper = (*ReplicaFS)(nil)
var _ fs.NodeCreater = (*ReplicaFS)(nil)
var _ fs.NodeStatfser = (*ReplicaFS)(nil)

const attrTimeout = 1 * time.Second

// ReplicaFS is the root directory of the mount: one flat directory holding
// every filename known to the cluster.
type ReplicaFS struct {
	fs.Inode
	store  Store
	logger *zap.Logger
}

func NewReplicaFS(store Store, logger *zap.Logger) *ReplicaFS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplicaFS{store: store, logger: logger}
}

// Mount serves the cluster at mountpoint until the returned server is unmounted.
func Mount(mountpoint string, store Store, logger *zap.Logger) (*fuse.Server, error) {
	root := NewReplicaFS(store, logger)
	timeout := attrTimeout

	return fs.Mount(mountpoint, root, &fs.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: fuse.MountOptions{
			FsName: "replistore",
			Name:   "replistore",
		},
	})
}

// OnAdd is called when this node is added to the file system
func (r *ReplicaFS) OnAdd(ctx context.Context) {
	r.logger.Info("FUSE filesystem mounted")
}

func (r *ReplicaFS) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Attr.Mode = 0755 | syscall.S_IFDIR
	out.Attr.Nlink = 2
	out.Attr.Uid = uint32(os.Getuid())
	out.Attr.Gid = uint32(os.Getgid())
	out.SetTimeout(attrTimeout)
	return fs.OK
}

// Readdir lists the union of files held by any node, Active or Down.
func (r *ReplicaFS) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := r.filenames(ctx)
	if err != nil {
		r.logger.Error("Failed to list files", zap.Error(err))
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fuse.DirEntry{
			Mode: syscall.S_IFREG,
			Name: name,
		})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (r *ReplicaFS) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	names, err := r.filenames(ctx)
	if err != nil {
		r.logger.Error("Failed to list files", zap.Error(err))
		return nil, syscall.EIO
	}

	idx := sort.SearchStrings(names, name)
	if idx == len(names) || names[idx] != name {
		return nil, syscall.ENOENT
	}

	file := newReplicaFile(name, r.store, r.logger)
	if errno := file.attr(ctx, &out.Attr); errno != fs.OK {
		return nil, errno
	}
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)

	return r.NewInode(ctx, file, fs.StableAttr{Mode: syscall.S_IFREG}), fs.OK
}

// Create makes a new, empty file. It reaches the cluster on the first flush.
func (r *ReplicaFS) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	r.logger.Debug("Create file request", zap.String("filename", name))

	file := newReplicaFile(name, r.store, r.logger)
	file.truncate()

	file.fillAttr(&out.Attr)
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)

	child := r.NewInode(ctx, file, fs.StableAttr{Mode: syscall.S_IFREG})
	return child, nil, 0, fs.OK
}

// Statfs reports the file count; block figures are nominal.
func (r *ReplicaFS) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	const blockSize = 4096

	names, err := r.filenames(ctx)
	if err != nil {
		return syscall.EIO
	}

	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Blocks = 1024 * 1024
	out.Bfree = 1024 * 1024
	out.Bavail = 1024 * 1024
	out.Files = uint64(len(names))
	out.NameLen = 255
	return fs.OK
}

func (r *ReplicaFS) filenames(ctx context.Context) ([]string, error) {
	listings, err := r.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, l := range listings {
		for _, f := range l.Files {
			seen[f] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for f := range seen {
		names = append(names, f)
	}
	sort.Strings(names)
	return names, nil
}
