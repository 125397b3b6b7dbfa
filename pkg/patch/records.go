package patch

import (
	"io"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// RecordFile is the audit log written next to a patched binary. It holds
// everything needed to undo the patches with Restore.
type RecordFile struct {
	Input   string    `yaml:"input"`
	Output  string    `yaml:"output"`
	Arch    string    `yaml:"arch"`
	Created time.Time `yaml:"created"`
	Records []Record  `yaml:"records"`
}

// MarshalYAML encodes a stub as a hex string.
func (s Stub) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML decodes a stub written by MarshalYAML.
func (s *Stub) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var h string
	if err := unmarshal(&h); err != nil {
		return err
	}
	stub, err := ParseStub(h)
	if err != nil {
		return err
	}
	*s = stub
	return nil
}

// WriteRecords encodes rf to w.
func WriteRecords(w io.Writer, rf *RecordFile) error {
	out, err := yaml.Marshal(rf)
	if err != nil {
		return errors.Wrap(err, "could not encode patch records")
	}
	_, err = w.Write(out)
	return err
}

// ReadRecords decodes a record file from r.
func ReadRecords(r io.Reader) (*RecordFile, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var rf RecordFile
	if err := yaml.UnmarshalStrict(data, &rf); err != nil {
		return nil, errors.Wrap(err, "could not decode patch records")
	}
	return &rf, nil
}
