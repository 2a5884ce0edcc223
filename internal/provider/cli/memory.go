package cli

import (
	"bytes"
	"os"

	"github.com/parleyhq/parley/internal/fault"
)

// Working-memory file header: magic plus a format version. The payload
// after the header is the latest response, stored opaquely.
var workingMagic = []byte("PWMF")

const workingVersion = byte(1)

// workingMemory persists the latest subprocess response to a scratch
// file that survives across queries and sessions.
type workingMemory struct {
	path string
	file *os.File
}

// openWorkingMemory opens or creates the scratch file, validating the
// header on existing files.
func openWorkingMemory(path string) (*workingMemory, error) {
	const op = "cli.openWorkingMemory"

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fault.Wrap(fault.File, op, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fault.Wrap(fault.File, op, err)
	}

	if info.Size() == 0 {
		header := append(append([]byte{}, workingMagic...), workingVersion)
		if _, err := f.Write(header); err != nil {
			_ = f.Close()
			return nil, fault.Wrap(fault.File, op, err)
		}
		return &workingMemory{path: path, file: f}, nil
	}

	header := make([]byte, len(workingMagic)+1)
	if _, err := f.ReadAt(header, 0); err != nil {
		_ = f.Close()
		return nil, fault.Errorf(fault.Corrupt, op, "working memory %s: truncated header", path)
	}
	if !bytes.Equal(header[:len(workingMagic)], workingMagic) {
		_ = f.Close()
		return nil, fault.Errorf(fault.Corrupt, op, "working memory %s: bad magic", path)
	}
	if header[len(workingMagic)] != workingVersion {
		_ = f.Close()
		return nil, fault.Errorf(fault.Corrupt, op,
			"working memory %s: unsupported version %d", path, header[len(workingMagic)])
	}
	return &workingMemory{path: path, file: f}, nil
}

// store replaces the payload with content.
func (m *workingMemory) store(content string) error {
	const op = "cli.workingMemory.store"

	headerLen := int64(len(workingMagic) + 1)
	if err := m.file.Truncate(headerLen); err != nil {
		return fault.Wrap(fault.File, op, err)
	}
	if _, err := m.file.WriteAt([]byte(content), headerLen); err != nil {
		return fault.Wrap(fault.File, op, err)
	}
	return nil
}

// load returns the current payload.
func (m *workingMemory) load() (string, error) {
	const op = "cli.workingMemory.load"

	info, err := m.file.Stat()
	if err != nil {
		return "", fault.Wrap(fault.File, op, err)
	}
	headerLen := int64(len(workingMagic) + 1)
	if info.Size() <= headerLen {
		return "", nil
	}
	payload := make([]byte, info.Size()-headerLen)
	if _, err := m.file.ReadAt(payload, headerLen); err != nil {
		return "", fault.Wrap(fault.File, op, err)
	}
	return string(payload), nil
}

func (m *workingMemory) close() error {
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
