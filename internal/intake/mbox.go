package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emersion/go-mbox"

	"mailroute/internal/record"
)

// ReadMbox parses every message of an mbox stream. A message that fails to
// parse is reported in errs and skipped; a broken stream stops the scan.
func ReadMbox(r io.Reader, received time.Time) (records []record.Record, errs []error) {
	reader := mbox.NewReader(r)
	for i := 0; ; i++ {
		msg, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("mbox message %d: %w", i, err))
			break
		}

		rec, err := ParseEML(msg, received)
		if err != nil {
			errs = append(errs, fmt.Errorf("mbox message %d: %w", i, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func ReadMboxFile(path string, received time.Time) ([]record.Record, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{err}
	}
	defer f.Close()

	records, errs := ReadMbox(f, received)
	for i, err := range errs {
		errs[i] = fmt.Errorf("%s: %w", path, err)
	}
	return records, errs
}
