package fieldrun

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/okian/fieldwork/internal/domain/model"
)

// LoadStudy reads a study descriptor from a YAML file.
func LoadStudy(path string) (model.Study, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Study{}, fmt.Errorf("read study %q: %w", path, err)
	}
	return ParseStudy(bytes.NewReader(data))
}

// ParseStudy decodes a single YAML study document. Unknown keys are rejected
// so typos do not silently drop targeting or dates.
func ParseStudy(r io.Reader) (model.Study, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var study model.Study
	if err := dec.Decode(&study); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Study{}, fmt.Errorf("%w: empty document", ErrInvalidStudy)
		}
		return model.Study{}, fmt.Errorf("%w: %v", ErrInvalidStudy, err)
	}
	if err := validateStudy(study); err != nil {
		return model.Study{}, err
	}
	return study, nil
}

func validateStudy(s model.Study) error {
	var missing []string
	if strings.TrimSpace(s.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(s.Name) == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidStudy, strings.Join(missing, ", "))
	}
	if s.TargetCompletes <= 0 {
		return fmt.Errorf("%w: target_completes must be positive", ErrInvalidStudy)
	}
	if s.StartDate != nil && s.EndDate != nil && !s.EndDate.After(*s.StartDate) {
		return fmt.Errorf("%w: end_date must be after start_date", ErrInvalidStudy)
	}
	return nil
}
