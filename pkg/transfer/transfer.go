// Package transfer implements the L4 transfer engine: moving files and
// directories between two Backend instances, with optional
// compress-before/uncompress-after and source-delete semantics (spec.md
// §4.4). Grounded directly on original_source's
// pyrc/remote/transfer.py (transfer_files/transfer_dir/transfer/
// __buffered_transfer), reimplemented against the Go Backend contract:
// same-backend moves delegate to a shell copy (or a direct os copy for
// Local↔Local), Local↔SSH moves use github.com/pkg/sftp, Local↔Container
// moves use docker cp (github.com/docker/docker/pkg/archive for packing),
// and any other pair either isn't supported directly (ferrors.ErrTransferUnsupported)
// or is routed through a caller-supplied local staging directory.
package transfer

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/backend/container"
	"github.com/combust-labs/execfabric/pkg/backend/local"
	"github.com/combust-labs/execfabric/pkg/backend/sshfs"
	"github.com/combust-labs/execfabric/pkg/ferrors"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/docker/docker/api/types"
	dockerarchive "github.com/docker/docker/pkg/archive"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Options configures one Transfer call (spec.md §4.4 / §6).
type Options struct {
	// CompressBefore zips fromPath on the source backend before sending it,
	// always as a single file transfer regardless of whether fromPath is a
	// file or a directory.
	CompressBefore bool
	// UncompressAfter unzips the transferred archive on the destination
	// backend and removes the archive once extracted. Only meaningful when
	// CompressBefore is set.
	UncompressAfter bool
	// DeleteSource removes fromPath from the source backend once the
	// transfer completes successfully.
	DeleteSource bool
	// LocalBufferDir, when non-empty, is used as a staging directory for
	// pairs with no direct transfer path (e.g. SSH↔SSH, SSH↔Container):
	// from→buffer then buffer→to, both legs direct. It must already exist
	// on the process's own local filesystem.
	LocalBufferDir string
	// Progress receives per-file byte progress; nil disables tracking.
	Progress *observer.TransferProgress
}

// Transfer moves fromPath (file or directory) on from to toPath on to,
// returning the path actually sent (possibly an archive, when
// CompressBefore is set) and the path actually received (possibly still an
// archive, when UncompressAfter is not set). Mirrors pyrc.remote.transfer.transfer.
func Transfer(ctx context.Context, from backend.Backend, fromPath string, to backend.Backend, toPath string, opts Options) (sent, received string, err error) {
	fromAbs, err := from.Abspath(ctx, fromPath)
	if err != nil {
		return "", "", errors.Wrapf(err, "resolving source path %q", fromPath)
	}
	toAbs, err := to.Abspath(ctx, toPath)
	if err != nil {
		return "", "", errors.Wrapf(err, "resolving destination path %q", toPath)
	}

	if opts.CompressBefore {
		return transferCompressed(ctx, from, fromAbs, to, toAbs, opts)
	}

	isFile, err := from.IsFile(ctx, fromAbs)
	if err != nil {
		return "", "", err
	}
	if isFile {
		received, err := transferFile(ctx, from, fromAbs, to, toAbs, opts)
		if err != nil {
			return "", "", err
		}
		if opts.DeleteSource {
			if err := from.Unlink(ctx, fromAbs, false); err != nil {
				return "", "", errors.Wrap(err, "deleting source after transfer")
			}
		}
		return fromAbs, received, nil
	}

	isDir, err := from.IsDir(ctx, fromAbs)
	if err != nil {
		return "", "", err
	}
	if !isDir {
		return "", "", errors.Errorf("path %q is neither a file nor a directory on the source backend", fromAbs)
	}

	if err := transferDir(ctx, from, fromAbs, to, toAbs, opts); err != nil {
		return "", "", err
	}
	if opts.DeleteSource {
		if err := from.Rmdir(ctx, fromAbs, true); err != nil {
			return "", "", errors.Wrap(err, "deleting source directory after transfer")
		}
	}
	return fromAbs, fspath.Join(to.OSType(), toAbs, fspath.Basename(from.OSType(), fromAbs)), nil
}

func transferCompressed(ctx context.Context, from backend.Backend, fromAbs string, to backend.Backend, toAbs string, opts Options) (sent, received string, err error) {
	removeSource := func() error {
		if isDir, _ := from.IsDir(ctx, fromAbs); isDir {
			return from.Rmdir(ctx, fromAbs, true)
		}
		return from.Unlink(ctx, fromAbs, false)
	}
	archiveFrom, err := from.Zip(ctx, fromAbs, "")
	if err != nil {
		return "", "", errors.Wrap(err, "compressing source before transfer")
	}
	archiveTo, err := transferFile(ctx, from, archiveFrom, to, toAbs, opts)
	if err != nil {
		return "", "", err
	}
	if err := from.Unlink(ctx, archiveFrom, false); err != nil {
		return "", "", errors.Wrap(err, "removing source archive after transfer")
	}

	if !opts.UncompressAfter {
		if opts.DeleteSource {
			if err := removeSource(); err != nil {
				return "", "", err
			}
		}
		return archiveFrom, archiveTo, nil
	}

	extracted, err := to.Unzip(ctx, archiveTo, "")
	if err != nil {
		return "", "", errors.Wrap(err, "uncompressing transferred archive")
	}
	if err := to.Unlink(ctx, archiveTo, false); err != nil {
		return "", "", errors.Wrap(err, "removing transferred archive")
	}
	if opts.DeleteSource {
		if err := removeSource(); err != nil {
			return "", "", err
		}
	}
	return archiveFrom, extracted, nil
}

// transferDir mirrors pyrc's transfer_dir: it mirrors the source tree's
// directory structure on the destination (recreating any existing
// directory at each node), then transfers each node's own files.
func transferDir(ctx context.Context, from backend.Backend, fromDir string, to backend.Backend, toDir string, opts Options) error {
	destRoot := fspath.Join(to.OSType(), toDir, fspath.Basename(from.OSType(), fromDir))
	if err := resetDir(ctx, to, destRoot); err != nil {
		return err
	}

	fromTree, err := from.Lsdir(ctx, fromDir)
	if err != nil {
		return errors.Wrapf(err, "snapshotting source directory %q", fromDir)
	}

	for _, node := range fromTree.Nodes() {
		nodeDest := fspath.Join(to.OSType(), destRoot, node.RelativeToRoot())
		if node != fromTree {
			if err := resetDir(ctx, to, nodeDest); err != nil {
				return err
			}
		}
		if _, err := TransferFiles(ctx, node.RealFiles(), nodeDest, from, to, opts.Progress); err != nil {
			return errors.Wrapf(err, "transferring files under %q", node.Root)
		}
	}
	return nil
}

func resetDir(ctx context.Context, to backend.Backend, dir string) error {
	if isDir, _ := to.IsDir(ctx, dir); isDir {
		if err := to.Rmdir(ctx, dir, true); err != nil {
			return errors.Wrapf(err, "clearing existing destination directory %q", dir)
		}
	}
	return to.Mkdir(ctx, dir, true, true)
}

// TransferFiles transfers a list of source files into a single destination
// directory on to, returning the resulting destination paths in order.
// Mirrors pyrc's transfer_files.
func TransferFiles(ctx context.Context, fromPaths []string, toDir string, from, to backend.Backend, progress *observer.TransferProgress) ([]string, error) {
	destinations := make([]string, 0, len(fromPaths))
	for _, p := range fromPaths {
		dest, err := transferFile(ctx, from, p, to, toDir, Options{Progress: progress})
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, dest)
	}
	return destinations, nil
}

// transferFile copies the single file at fromPath (on from) into directory
// toDir (on to), returning the new file's absolute path on to.
func transferFile(ctx context.Context, from backend.Backend, fromPath string, to backend.Backend, toDir string, opts Options) (string, error) {
	destPath := fspath.Join(to.OSType(), toDir, fspath.Basename(from.OSType(), fromPath))

	if sameBackend(from, to) {
		return destPath, sameBackendCopy(ctx, from, fromPath, destPath)
	}

	fromLocal, fromIsLocal := from.(*local.Backend)
	toLocal, toIsLocal := to.(*local.Backend)
	fromSSH, fromIsSSH := from.(*sshfs.Backend)
	toSSH, toIsSSH := to.(*sshfs.Backend)
	fromContainer, fromIsContainer := from.(*container.Backend)
	toContainer, toIsContainer := to.(*container.Backend)

	switch {
	case fromIsLocal && toIsLocal:
		// Two independent *local.Backend instances still share the same
		// real filesystem; sameBackend's pointer-identity check can't see
		// that, so it's handled here instead.
		return destPath, osCopyFile(fromPath, destPath)
	case fromIsLocal && toIsSSH:
		return destPath, sftpPut(ctx, fromLocal, fromPath, toSSH, destPath, opts.Progress)
	case fromIsSSH && toIsLocal:
		return destPath, sftpGet(ctx, fromSSH, fromPath, toLocal, destPath, opts.Progress)
	case fromIsLocal && toIsContainer:
		return destPath, dockerPut(ctx, fromPath, toContainer, destPath, opts.Progress)
	case fromIsContainer && toIsLocal:
		return destPath, dockerGet(ctx, fromContainer, fromPath, destPath, opts.Progress)
	}

	if opts.LocalBufferDir != "" {
		return destPath, bufferedTransferFile(ctx, from, fromPath, to, toDir, opts)
	}

	return "", errors.Wrapf(ferrors.ErrTransferUnsupported, "%T -> %T", from, to)
}

func sameBackend(a, b backend.Backend) bool {
	return a == b
}

func sameBackendCopy(ctx context.Context, b backend.Backend, fromPath, toPath string) error {
	if _, ok := b.(*local.Backend); ok {
		return osCopyFile(fromPath, toPath)
	}
	cmd := fmt.Sprintf("cp -r %s %s", shQuote(fromPath), shQuote(toPath))
	_, _, status, err := b.ExecCommand(ctx, cmd, "", nil, nil)
	if err != nil {
		return err
	}
	if status != 0 {
		return errors.Errorf("same-backend copy %q -> %q exited %d", fromPath, toPath, status)
	}
	return nil
}

func osCopyFile(fromPath, toPath string) error {
	in, err := os.Open(fromPath)
	if err != nil {
		return errors.Wrapf(err, "open source %q", fromPath)
	}
	defer in.Close()
	out, err := os.Create(toPath)
	if err != nil {
		return errors.Wrapf(err, "create destination %q", toPath)
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return errors.Wrapf(err, "copy %q -> %q", fromPath, toPath)
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// --- SFTP: Local <-> SSH --------------------------------------------------

func sftpPut(ctx context.Context, from *local.Backend, fromPath string, to *sshfs.Backend, toPath string, progress *observer.TransferProgress) error {
	in, err := os.Open(fromPath)
	if err != nil {
		return errors.Wrapf(err, "open local source %q", fromPath)
	}
	defer in.Close()
	info, statErr := in.Stat()
	var total int64
	if statErr == nil {
		total = info.Size()
	}

	client := to.SFTPClient()
	out, err := client.Create(toPath)
	if err != nil {
		return errors.Wrapf(err, "create remote destination %q", toPath)
	}
	defer out.Close()

	return copyWithProgress(progress, toPath, total, in, out)
}

func sftpGet(ctx context.Context, from *sshfs.Backend, fromPath string, to *local.Backend, toPath string, progress *observer.TransferProgress) error {
	client := from.SFTPClient()
	in, err := client.Open(fromPath)
	if err != nil {
		return errors.Wrapf(err, "open remote source %q", fromPath)
	}
	defer in.Close()
	var total int64
	if info, statErr := in.Stat(); statErr == nil {
		total = info.Size()
	}

	out, err := os.Create(toPath)
	if err != nil {
		return errors.Wrapf(err, "create local destination %q", toPath)
	}
	defer out.Close()

	return copyWithProgress(progress, toPath, total, in, out)
}

func copyWithProgress(progress *observer.TransferProgress, name string, total int64, src io.Reader, dst io.Writer) error {
	if progress == nil {
		_, err := io.Copy(dst, src)
		return err
	}
	progress.AddFile(name, total)
	progress.Start(name)
	buf := make([]byte, 32*1024)
	var sent int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				progress.Stop(name)
				return writeErr
			}
			sent += int64(n)
			progress.Update(name, total, sent)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			progress.Stop(name)
			return readErr
		}
	}
}

// --- Docker cp: Local <-> Container ---------------------------------------

func dockerPut(ctx context.Context, fromPath string, to *container.Backend, toPath string, progress *observer.TransferProgress) error {
	info, err := os.Stat(fromPath)
	if err != nil {
		return errors.Wrapf(err, "stat local source %q", fromPath)
	}
	if progress != nil {
		progress.AddFile(toPath, info.Size())
		progress.Start(toPath)
	}

	tarStream, err := dockerarchive.TarWithOptions(filepath.Dir(fromPath), &dockerarchive.TarOptions{
		IncludeFiles: []string{filepath.Base(fromPath)},
	})
	if err != nil {
		return errors.Wrap(err, "building tar stream for docker cp")
	}
	defer tarStream.Close()

	destDir := filepath.ToSlash(filepath.Dir(toPath))
	client := to.DockerClient()
	if err := client.CopyToContainer(ctx, to.ContainerID(), destDir, tarStream, types.CopyToContainerOptions{}); err != nil {
		if progress != nil {
			progress.Stop(toPath)
		}
		return errors.Wrap(err, "docker cp to container")
	}
	if progress != nil {
		progress.Update(toPath, info.Size(), info.Size())
	}
	return nil
}

func dockerGet(ctx context.Context, from *container.Backend, fromPath string, toPath string, progress *observer.TransferProgress) error {
	client := from.DockerClient()
	reader, _, err := client.CopyFromContainer(ctx, from.ContainerID(), fromPath)
	if err != nil {
		return errors.Wrap(err, "docker cp from container")
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	hdr, err := tr.Next()
	if err != nil {
		return errors.Wrap(err, "reading tar stream from container")
	}

	out, err := os.Create(toPath)
	if err != nil {
		return errors.Wrapf(err, "create local destination %q", toPath)
	}
	defer out.Close()

	return copyWithProgress(progress, toPath, hdr.Size, tr, out)
}

// --- Buffered three-hop transfer ------------------------------------------

// bufferedTransferFile routes a from->to pair with no direct support
// through a local staging directory: from->buffer, then buffer->to.
// Mirrors pyrc's __buffered_transfer.
func bufferedTransferFile(ctx context.Context, from backend.Backend, fromPath string, to backend.Backend, toDir string, opts Options) (resultErr error) {
	localBuffer := local.New(nil)
	if err := localBuffer.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := localBuffer.Close(); cerr != nil {
			resultErr = appendErr(resultErr, cerr)
		}
	}()

	bufferedPath, err := transferFile(ctx, from, fromPath, localBuffer, opts.LocalBufferDir, Options{Progress: opts.Progress})
	if err != nil {
		return errors.Wrap(err, "buffered transfer: source -> local buffer")
	}

	cleanup := func() {
		if rmErr := localBuffer.Unlink(ctx, bufferedPath, true); rmErr != nil {
			resultErr = appendErr(resultErr, rmErr)
		}
	}
	defer cleanup()

	if _, err := transferFile(ctx, localBuffer, bufferedPath, to, toDir, Options{Progress: opts.Progress}); err != nil {
		return errors.Wrap(err, "buffered transfer: local buffer -> destination")
	}
	return nil
}

func appendErr(existing, next error) error {
	if existing == nil {
		return next
	}
	merged, ok := existing.(*multierror.Error)
	if !ok {
		merged = multierror.Append(nil, existing)
	}
	return multierror.Append(merged, next)
}
