// Command ext4ls lists or extracts files from an ext4 filesystem image
// without mounting it.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/masahiro331/go-ext4reader/ext4"
	"github.com/masahiro331/go-ext4reader/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ext4ls", flag.ContinueOnError)
	offset := fs.Int64("o", 0, "byte offset of the ext4 filesystem within the image")
	ignoreMagic := fs.Bool("i", false, "ignore magic number mismatches")
	extractFlag := fs.Bool("f", false, "treat path as a regular file and write its contents to stdout")
	verbose := fs.Bool("v", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			ext4.SetLogger(logger)
			defer logger.Sync()
		}
	}

	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ext4ls [-o offset] [-i] [-f] <image> [path]")
		return 2
	}
	imagePath := rest[0]
	var pathParts []string
	if len(rest) > 1 {
		pathParts = strings.Split(strings.Trim(rest[1], "/"), "/")
		if len(pathParts) == 1 && pathParts[0] == "" {
			pathParts = nil
		}
	}

	f, err := os.Open(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ext4ls: %v\n", err)
		return 1
	}
	defer f.Close()

	source := storage.FromReaderAt(f, *offset)
	volume, err := ext4.Open(source, ext4.OpenOptions{IgnoreMagic: *ignoreMagic})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ext4ls: failed to open volume: %v\n", err)
		return 1
	}

	root, err := volume.Root()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ext4ls: failed to read root directory: %v\n", err)
		return 1
	}

	target, err := root.GetInode(pathParts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ext4ls: %v\n", err)
		return 1
	}

	if *extractFlag || target.IsFile() {
		if err := extract(target, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "ext4ls: %v\n", err)
			return 1
		}
		return 0
	}

	if target.IsDir() {
		if err := list(volume, target); err != nil {
			fmt.Fprintf(os.Stderr, "ext4ls: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(os.Stderr, "ext4ls: %q is neither a regular file nor a directory\n", rest[1:])
	return 1
}

func extract(inode *ext4.Inode, w io.Writer) error {
	r, err := inode.OpenRead()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

func list(volume *ext4.Volume, dir *ext4.Inode) error {
	entries, err := dir.OpenDir(nil)
	if err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return directoryEntryKey(entries[i]) < directoryEntryKey(entries[j]) })

	for _, e := range entries {
		child, err := volume.GetInode(e.InodeIdx)
		mode := "?"
		size := ""
		if err == nil {
			mode = child.ModeString()
			size = sizeReadable(child.Size())
		}
		fmt.Printf("%s %10s %s\n", mode, size, e.Name)
	}
	return nil
}

// directoryEntryKey orders directories before files, then case-insensitively,
// then case-sensitively as a tiebreaker. This listing policy is specific to
// this command; the ext4 package itself returns entries in on-disk order and
// takes no position on how a caller should sort them.
func directoryEntryKey(e ext4.DirEntry) string {
	prefix := "1"
	if e.FileType == ext4.FileTypeDir {
		prefix = "0"
	}
	return prefix + strings.ToLower(e.Name) + "\x00" + e.Name
}

// sizeReadable renders a byte count in the familiar human-readable form
// (512B, 1.5KiB, 3.2MiB, ...), a presentation detail that belongs only at this CLI
// boundary, not in the ext4 package's data model.
func sizeReadable(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
