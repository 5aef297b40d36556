package canvas

import (
	"encoding/json"
	"strconv"
)

// Wire representations of the engine's REST entities. Only the fields the
// orchestrator reads or writes are declared.

// versionToken is a flow version that older engines encode as a number and
// newer ones as a string. Numeric tokens are written back as numbers.
type versionToken string

func (v versionToken) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(v), 10, 64); err == nil {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}

func (v *versionToken) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = versionToken(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = versionToken(n.String())
	return nil
}

type versionControlDTO struct {
	RegistryID string       `json:"registryId,omitempty"`
	BucketID   string       `json:"bucketId,omitempty"`
	FlowID     string       `json:"flowId,omitempty"`
	FlowName   string       `json:"flowName,omitempty"`
	Version    versionToken `json:"version,omitempty"`
	State      string       `json:"state,omitempty"`
}

type idRef struct {
	ID string `json:"id"`
}

type groupComponent struct {
	ID                        string             `json:"id,omitempty"`
	Name                      string             `json:"name,omitempty"`
	ParentGroupID             string             `json:"parentGroupId,omitempty"`
	Comments                  string             `json:"comments,omitempty"`
	Position                  *Position          `json:"position,omitempty"`
	VersionControlInformation *versionControlDTO `json:"versionControlInformation,omitempty"`
	ParameterContext          *idRef             `json:"parameterContext,omitempty"`
}

type groupEntity struct {
	ID        string         `json:"id,omitempty"`
	Revision  Revision       `json:"revision"`
	Component groupComponent `json:"component"`
}

func (e groupEntity) toGroup() Group {
	g := Group{
		ID:       e.ID,
		Name:     e.Component.Name,
		ParentID: e.Component.ParentGroupID,
		Comments: e.Component.Comments,
		Revision: e.Revision,
	}
	if g.ID == "" {
		g.ID = e.Component.ID
	}
	if vci := e.Component.VersionControlInformation; vci != nil && vci.FlowID != "" {
		g.VersionControl = &VersionControl{
			RegistryID: vci.RegistryID,
			BucketID:   vci.BucketID,
			FlowID:     vci.FlowID,
			FlowName:   vci.FlowName,
			Version:    string(vci.Version),
			State:      vci.State,
		}
	}
	return g
}

type groupsEntity struct {
	ProcessGroups []groupEntity `json:"processGroups"`
}

type portComponent struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	State         RunState `json:"state"`
	ParentGroupID string   `json:"parentGroupId"`
}

type portEntity struct {
	ID        string        `json:"id"`
	Revision  Revision      `json:"revision"`
	Component portComponent `json:"component"`
}

func (e portEntity) toPort(kind ComponentKind) Port {
	return Port{
		ID:       e.ID,
		Name:     e.Component.Name,
		State:    e.Component.State,
		GroupID:  e.Component.ParentGroupID,
		Kind:     kind,
		Revision: e.Revision,
	}
}

type inputPortsEntity struct {
	InputPorts []portEntity `json:"inputPorts"`
}

type outputPortsEntity struct {
	OutputPorts []portEntity `json:"outputPorts"`
}

type relationshipDTO struct {
	Name string `json:"name"`
}

type processorConfig struct {
	Properties map[string]*string `json:"properties,omitempty"`
}

type processorComponent struct {
	ID            string            `json:"id,omitempty"`
	Name          string            `json:"name,omitempty"`
	Type          string            `json:"type,omitempty"`
	State         RunState          `json:"state,omitempty"`
	ParentGroupID string            `json:"parentGroupId,omitempty"`
	Config        *processorConfig  `json:"config,omitempty"`
	Relationships []relationshipDTO `json:"relationships,omitempty"`
}

type processorEntity struct {
	ID        string             `json:"id,omitempty"`
	Revision  Revision           `json:"revision"`
	Component processorComponent `json:"component"`
}

func (e processorEntity) toProcessor() Processor {
	p := Processor{
		ID:         e.ID,
		Name:       e.Component.Name,
		Type:       e.Component.Type,
		State:      e.Component.State,
		GroupID:    e.Component.ParentGroupID,
		Properties: make(map[string]string),
		Revision:   e.Revision,
	}
	if e.Component.Config != nil {
		for k, v := range e.Component.Config.Properties {
			if v != nil {
				p.Properties[k] = *v
			}
		}
	}
	for _, r := range e.Component.Relationships {
		p.Relationships = append(p.Relationships, r.Name)
	}
	return p
}

type processorsEntity struct {
	Processors []processorEntity `json:"processors"`
}

type runStatusEntity struct {
	Revision                     Revision `json:"revision"`
	State                        RunState `json:"state"`
	DisconnectedNodeAcknowledged bool     `json:"disconnectedNodeAcknowledged"`
}

type connectionComponent struct {
	ID                    string   `json:"id,omitempty"`
	Name                  string   `json:"name"`
	ParentGroupID         string   `json:"parentGroupId,omitempty"`
	Source                Endpoint `json:"source"`
	Destination           Endpoint `json:"destination"`
	SelectedRelationships []string `json:"selectedRelationships,omitempty"`
}

type connectionEntity struct {
	ID        string              `json:"id,omitempty"`
	Revision  Revision            `json:"revision"`
	Component connectionComponent `json:"component"`
}

type registryEntity struct {
	ID        string `json:"id"`
	Component struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"component"`
}

type registriesEntity struct {
	Registries []registryEntity `json:"registries"`
}

type bucketEntity struct {
	ID     string `json:"id"`
	Bucket struct {
		ID   string `json:"identifier"`
		Name string `json:"name"`
	} `json:"bucket"`
}

type bucketsEntity struct {
	Buckets []bucketEntity `json:"buckets"`
}

type flowEntity struct {
	VersionedFlow struct {
		FlowID   string `json:"flowId"`
		FlowName string `json:"flowName"`
		BucketID string `json:"bucketId"`
	} `json:"versionedFlow"`
}

type flowsEntity struct {
	VersionedFlows []flowEntity `json:"versionedFlows"`
}

type parameterContextEntity struct {
	ID        string `json:"id"`
	Component struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"component"`
}

type parameterContextsEntity struct {
	ParameterContexts []parameterContextEntity `json:"parameterContexts"`
}
