package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/label-engine/internal/domain"
)

// PrintJobMessage is the broker payload of one print job. Payloads travel
// through the artifact bucket; the message only carries their keys.
type PrintJobMessage struct {
	JobID       string           `json:"jobId"`
	BatchID     string           `json:"batchId"`
	Kind        domain.LabelKind `json:"kind"`
	ProductCode string           `json:"productCode"`
	OperatorID  string           `json:"operatorId"`
	Labels      []PrintJobLabel  `json:"labels"`
}

type PrintJobLabel struct {
	Index        int    `json:"index"`
	PalletNumber string `json:"palletNumber"`
	Series       string `json:"series"`
	ArtifactKey  string `json:"artifactKey"`
}

func (m PrintJobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid label kind %q", m.Kind)
	}
	if len(m.Labels) == 0 {
		return fmt.Errorf("at least one label is required")
	}
	for i, l := range m.Labels {
		if strings.TrimSpace(l.ArtifactKey) == "" {
			return fmt.Errorf("labels[%d].artifactKey is required", i)
		}
		if strings.TrimSpace(l.PalletNumber) == "" {
			return fmt.Errorf("labels[%d].palletNumber is required", i)
		}
	}
	return nil
}
