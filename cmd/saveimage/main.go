// saveimage manipulates flash image files from the host: creating and
// formatting blank regions, moving save files in and out, and packing whole
// stores into compressed archives.
package main

import (
	"archive/tar"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/djherbis/times"
	"github.com/klauspost/compress/flate"

	"github.com/pocketfw/savestore/internal/clock"
	"github.com/pocketfw/savestore/internal/codec"
	"github.com/pocketfw/savestore/internal/flash"
	"github.com/pocketfw/savestore/internal/storage"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: saveimage <command> [flags]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  create  create and format a blank flash image")
	fmt.Fprintln(os.Stderr, "  ls      list files stored in an image")
	fmt.Fprintln(os.Stderr, "  push    copy a host file into an image")
	fmt.Fprintln(os.Stderr, "  pull    copy a file out of an image")
	fmt.Fprintln(os.Stderr, "  export  pack all files into a compressed archive")
	fmt.Fprintln(os.Stderr, "  import  unpack an archive into an image")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "ls":
		err = runLs(os.Args[2:])
	case "push":
		err = runPush(os.Args[2:])
	case "pull":
		err = runPull(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// entryClock stamps storage opens with a caller-chosen time, falling back to
// the host clock.
type entryClock struct {
	now int64
}

func (c *entryClock) Now() int64 {
	if c.now == 0 {
		return time.Now().Unix()
	}
	return c.now
}

func openStore(image string, clk clock.Clock) (*storage.Manager, *flash.FileDriver, error) {
	drv, err := flash.OpenFileDriver(image)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.New(drv, clk)
	if err != nil {
		drv.Close()
		return nil, nil, err
	}
	return store, drv, nil
}

func newCodec(format string) (codec.Codec, error) {
	window := make([]byte, 64*1024)
	switch format {
	case "lz4":
		return codec.NewLZ4(window)
	case "deflate":
		return codec.NewDeflate(window, flate.BestCompression)
	default:
		return nil, fmt.Errorf("unknown format %q (want lz4 or deflate)", format)
	}
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	image := fs.String("image", "", "Path to flash image (required)")
	size := fs.Int64("size", 10*1024*1024, "Region size in bytes, multiple of 4096")
	fs.Parse(args)

	if *image == "" {
		return fmt.Errorf("-image is required")
	}

	drv, err := flash.CreateFileDriver(*image, *size)
	if err != nil {
		return err
	}
	defer drv.Close()

	// Mounting formats the blank region.
	store, err := storage.New(drv, clock.System{})
	if err != nil {
		return err
	}
	geo := store.Geometry()
	fmt.Printf("Created %s: %d blocks of %d bytes\n", *image, geo.BlockCount, geo.BlockSize)
	return nil
}

func runLs(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	image := fs.String("image", "", "Path to flash image (required)")
	fs.Parse(args)

	if *image == "" {
		return fmt.Errorf("-image is required")
	}

	store, drv, err := openStore(*image, clock.System{})
	if err != nil {
		return err
	}
	defer drv.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		saved := "-"
		if e.SavedAt != 0 {
			saved = time.Unix(e.SavedAt, 0).UTC().Format(time.RFC3339)
		}
		fmt.Printf("%10d  %s  %s\n", e.Size, saved, e.Name)
	}
	fmt.Printf("%d file(s)\n", len(entries))
	return nil
}

func runPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	image := fs.String("image", "", "Path to flash image (required)")
	source := fs.String("source", "", "Host file to copy in (required)")
	dest := fs.String("dest", "", "Destination path in image (defaults to /<basename>)")
	fs.Parse(args)

	if *image == "" || *source == "" {
		return fmt.Errorf("-image and -source are required")
	}
	if *dest == "" {
		*dest = "/" + filepath.Base(*source)
	}

	// Stamp the save with the host file's modification time, so the
	// device sees when the save was actually produced.
	ts, err := times.Stat(*source)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", *source, err)
	}

	store, drv, err := openStore(*image, clock.Fixed(ts.ModTime().Unix()))
	if err != nil {
		return err
	}
	defer drv.Close()

	f, err := os.Open(*source)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", *source, err)
	}
	defer f.Close()

	n, err := store.WriteFile(*dest, f)
	if err != nil {
		return err
	}
	fmt.Printf("Pushed %s -> %s (%d bytes)\n", *source, *dest, n)
	return nil
}

func runPull(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	image := fs.String("image", "", "Path to flash image (required)")
	source := fs.String("source", "", "File path in image (required)")
	dest := fs.String("dest", "", "Host destination (defaults to basename)")
	fs.Parse(args)

	if *image == "" || *source == "" {
		return fmt.Errorf("-image and -source are required")
	}
	if *dest == "" {
		*dest = path.Base(*source)
	}

	store, drv, err := openStore(*image, clock.System{})
	if err != nil {
		return err
	}
	defer drv.Close()

	out, err := os.Create(*dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *dest, err)
	}
	defer out.Close()

	n, err := store.ReadFile(*source, out)
	if err != nil {
		return err
	}
	fmt.Printf("Pulled %s -> %s (%d bytes)\n", *source, *dest, n)
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	image := fs.String("image", "", "Path to flash image (required)")
	out := fs.String("out", "", "Output archive path (required)")
	format := fs.String("format", "lz4", "Archive compression: lz4 or deflate")
	fs.Parse(args)

	if *image == "" || *out == "" {
		return fmt.Errorf("-image and -out are required")
	}
	c, err := newCodec(*format)
	if err != nil {
		return err
	}

	store, drv, err := openStore(*image, clock.System{})
	if err != nil {
		return err
	}
	defer drv.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}

	// Tar all files, carrying the save timestamp as the entry mtime.
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, e := range entries {
		var data bytes.Buffer
		if _, err := store.ReadFile(e.Name, &data); err != nil {
			return err
		}
		hdr := &tar.Header{
			Name:    e.Name[1:],
			Mode:    0644,
			Size:    int64(data.Len()),
			ModTime: time.Unix(e.SavedAt, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write archive header: %w", err)
		}
		if _, err := tw.Write(data.Bytes()); err != nil {
			return fmt.Errorf("failed to archive %s: %w", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}

	outFile, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *out, err)
	}
	defer outFile.Close()

	if _, err := c.Compress(outFile, &tarBuf); err != nil {
		return err
	}
	fmt.Printf("Exported %d file(s) to %s\n", len(entries), *out)
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	image := fs.String("image", "", "Path to flash image (required)")
	in := fs.String("in", "", "Input archive path (required)")
	format := fs.String("format", "lz4", "Archive compression: lz4 or deflate")
	fs.Parse(args)

	if *image == "" || *in == "" {
		return fmt.Errorf("-image and -in are required")
	}
	c, err := newCodec(*format)
	if err != nil {
		return err
	}

	inFile, err := os.Open(*in)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", *in, err)
	}
	defer inFile.Close()

	var tarBuf bytes.Buffer
	if _, err := c.Decompress(&tarBuf, inFile); err != nil {
		return err
	}

	clk := &entryClock{}
	store, drv, err := openStore(*image, clk)
	if err != nil {
		return err
	}
	defer drv.Close()

	count := 0
	tr := tar.NewReader(&tarBuf)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		clk.now = hdr.ModTime.Unix()
		if _, err := store.WriteFile("/"+hdr.Name, tr); err != nil {
			return err
		}
		count++
	}
	fmt.Printf("Imported %d file(s) into %s\n", count, *image)
	return nil
}
