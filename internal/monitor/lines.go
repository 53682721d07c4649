package monitor

import (
	"bytes"
	"io"
	"os"
)

// CountLines counts the lines in the file at path. A final line without a
// trailing newline still counts.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	count := 0
	var last byte
	seen := false
	for {
		n, err := f.Read(buf)
		if n > 0 {
			count += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
			seen = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if seen && last != '\n' {
		count++
	}
	return count, nil
}
