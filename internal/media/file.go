package media

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

const fileBufferSize = 64 * 1024

type dynamicWriter struct {
	w io.Writer
}

func (d *dynamicWriter) Write(p []byte) (int, error) {
	if d.w == nil {
		return 0, fmt.Errorf("no segment file is open")
	}
	return d.w.Write(p)
}

func (d *dynamicWriter) setTarget(w io.Writer) {
	d.w = w
}

// segmentFile is a segment file on disk that counts the bytes written into it.
type segmentFile struct {
	path string
	fi   *os.File
	size int64
}

func createSegmentFile(path string) (*segmentFile, error) {
	fi, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &segmentFile{
		path: path,
		fi:   fi,
	}, nil
}

func (f *segmentFile) Write(p []byte) (int, error) {
	n, err := f.fi.Write(p)
	f.size += int64(n)
	return n, err
}

func (f *segmentFile) close() (int64, error) {
	err := f.fi.Close()
	if err != nil {
		return 0, err
	}
	return f.size, nil
}

// output routes a buffered stream of bytes into the current segment file.
type output struct {
	dw   *dynamicWriter
	bw   *bufio.Writer
	file *segmentFile
}

func newOutput() *output {
	o := &output{
		dw: &dynamicWriter{},
	}
	o.bw = bufio.NewWriterSize(o.dw, fileBufferSize)
	return o
}

func (o *output) open(path string) error {
	if o.file != nil {
		return fmt.Errorf("segment file %s is still open", o.file.path)
	}

	f, err := createSegmentFile(path)
	if err != nil {
		return err
	}

	o.file = f
	o.dw.setTarget(f)
	o.bw.Reset(o.dw)
	return nil
}

func (o *output) flush() error {
	if o.file == nil {
		return nil
	}
	return o.bw.Flush()
}

func (o *output) close() (int64, error) {
	if o.file == nil {
		return 0, fmt.Errorf("no segment file is open")
	}

	f := o.file
	o.file = nil

	err := o.bw.Flush()
	if err != nil {
		f.fi.Close()
		return 0, err
	}

	o.dw.setTarget(nil)
	return f.close()
}
