package imagefetch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
)

// TempImage is a normalized image written to a transient file. The file must
// be released once the image has been embedded.
type TempImage struct {
	Path   string
	Format Format

	once sync.Once
	err  error
}

// Release deletes the file. It is safe to call more than once.
func (t *TempImage) Release() error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		if err := os.Remove(t.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.err = err
		}
	})
	return t.err
}

// Acquire fetches url and writes the normalized bytes to a new temp file.
// On error no file is left behind.
func (f *Fetcher) Acquire(ctx context.Context, url string) (*TempImage, error) {
	data, format, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(f.tempDir, "slidegen-img-*."+extension(format))
	if err != nil {
		return nil, err
	}
	tmp := &TempImage{Path: file.Name(), Format: format}

	if _, err := file.Write(data); err != nil {
		file.Close()
		tmp.Release()
		return nil, err
	}
	if err := file.Close(); err != nil {
		tmp.Release()
		return nil, err
	}
	return tmp, nil
}

func extension(f Format) string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}
