package amfiprot

import (
	"fmt"
	"time"

	"github.com/amfitech/amfiprot/pkg/packet"
	"github.com/amfitech/amfiprot/pkg/payload"
)

// Parameter is one configuration entry. Value holds the plain Go
// representation so snapshots marshal naturally to JSON; the wire type tag
// is recovered from the device on writes.
type Parameter struct {
	UID      uint32 `json:"uid"`
	Name     string `json:"name"`
	Value    any    `json:"value"`
	Category string `json:"category,omitempty"`
}

// Category groups parameters under a device-defined name.
type Category struct {
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters"`
}

// Configurator walks and edits a device's configuration tree.
type Configurator struct {
	device *Device
}

// ReadAll queries the full configuration: every category, every parameter
// name/UID, every value.
func (c *Configurator) ReadAll() ([]Category, error) {
	count, err := c.categoryCount()
	if err != nil {
		return nil, fmt.Errorf("reading category count: %w", err)
	}

	var config []Category
	for cat := 0; cat < int(count); cat++ {
		name, err := c.categoryName(uint8(cat))
		if err != nil {
			return nil, fmt.Errorf("reading category %d name: %w", cat, err)
		}
		category := Category{Name: name}

		paramCount, err := c.parameterCount(uint8(cat))
		if err != nil {
			return nil, fmt.Errorf("reading parameter count for category %q: %w", name, err)
		}

		for idx := 0; idx < int(paramCount); idx++ {
			paramName, uid, err := c.parameterNameUID(uint8(cat), uint16(idx))
			if err != nil {
				return nil, fmt.Errorf("reading parameter %d of category %q: %w", idx, name, err)
			}
			value, err := c.Read(uid)
			if err != nil {
				return nil, fmt.Errorf("reading value of %q (UID %d): %w", paramName, uid, err)
			}
			category.Parameters = append(category.Parameters, Parameter{
				UID:   uid,
				Name:  paramName,
				Value: value.Data,
			})
		}

		config = append(config, category)
	}
	return config, nil
}

// ReadAllFlat queries the full configuration as a flat parameter list with
// the category name recorded on each entry.
func (c *Configurator) ReadAllFlat() ([]Parameter, error) {
	config, err := c.ReadAll()
	if err != nil {
		return nil, err
	}

	var flat []Parameter
	for _, category := range config {
		for _, param := range category.Parameters {
			param.Category = category.Name
			flat = append(flat, param)
		}
	}
	return flat, nil
}

// WriteAll writes every parameter of a nested configuration snapshot.
func (c *Configurator) WriteAll(config []Category) error {
	for _, category := range config {
		for _, param := range category.Parameters {
			if err := c.Write(param.UID, param.Value); err != nil {
				return fmt.Errorf("writing %q (UID %d): %w", param.Name, param.UID, err)
			}
		}
	}
	return nil
}

// WriteAllFlat writes every parameter of a flat configuration snapshot.
func (c *Configurator) WriteAllFlat(params []Parameter) error {
	for _, param := range params {
		if err := c.Write(param.UID, param.Value); err != nil {
			return fmt.Errorf("writing %q (UID %d): %w", param.Name, param.UID, err)
		}
	}
	return nil
}

// Read queries the value of one parameter by UID.
func (c *Configurator) Read(uid uint32) (payload.Value, error) {
	node := c.device.Node
	if err := node.SendPayload(&payload.RequestConfigurationValueUID{UID: uid}, packet.NoAck); err != nil {
		return payload.Value{}, err
	}
	reply, err := c.awaitValueReply(uid, defaultReplyTimeout)
	if err != nil {
		return payload.Value{}, err
	}
	return reply.Value, nil
}

// Write sets one parameter by UID. The current value is read first to
// recover the wire type, the new value is written with that type, and the
// readback must equal the requested value.
func (c *Configurator) Write(uid uint32, value any) error {
	current, err := c.Read(uid)
	if err != nil {
		return fmt.Errorf("parameter UID %d not readable on target: %w", uid, err)
	}

	want, err := coerceValue(value, current.Type)
	if err != nil {
		return err
	}

	node := c.device.Node
	if err := node.SendPayload(&payload.SetConfigurationValueUID{UID: uid, Value: want}, packet.NoAck); err != nil {
		return err
	}

	readback, err := c.awaitValueReply(uid, defaultReplyTimeout)
	if err != nil {
		return err
	}
	if readback.Value.Data != want.Data {
		return &ConfigWriteMismatchError{UID: uid, Want: want, Got: readback.Value}
	}
	return nil
}

// ResetToDefault restores the stored default configuration.
func (c *Configurator) ResetToDefault() error {
	return c.device.LoadDefaultConfiguration()
}

// awaitValueReply waits for a configuration value reply carrying the given
// UID, skipping replies for other UIDs.
func (c *Configurator) awaitValueReply(uid uint32, timeout time.Duration) (*payload.ReplyConfigurationValueUID, error) {
	node := c.device.Node
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		reply, err := awaitPayload[*payload.ReplyConfigurationValueUID](node, remaining)
		if err != nil {
			return nil, err
		}
		if reply.UID == uid {
			return reply, nil
		}
	}
}

func (c *Configurator) categoryCount() (uint16, error) {
	node := c.device.Node
	if err := node.SendPayload(&payload.RequestCategoryCount{}, packet.NoAck); err != nil {
		return 0, err
	}
	reply, err := awaitPayload[*payload.ReplyCategoryCount](node, defaultReplyTimeout)
	if err != nil {
		return 0, err
	}
	return reply.Count, nil
}

func (c *Configurator) categoryName(category uint8) (string, error) {
	node := c.device.Node
	if err := node.SendPayload(&payload.RequestConfigurationCategory{Category: category}, packet.NoAck); err != nil {
		return "", err
	}
	reply, err := awaitPayload[*payload.ReplyConfigurationCategory](node, defaultReplyTimeout)
	if err != nil {
		return "", err
	}
	return reply.Name, nil
}

func (c *Configurator) parameterCount(category uint8) (uint16, error) {
	node := c.device.Node
	if err := node.SendPayload(&payload.RequestConfigurationValueCount{Category: category}, packet.NoAck); err != nil {
		return 0, err
	}
	reply, err := awaitPayload[*payload.ReplyConfigurationValueCount](node, defaultReplyTimeout)
	if err != nil {
		return 0, err
	}
	return reply.Count, nil
}

func (c *Configurator) parameterNameUID(category uint8, index uint16) (string, uint32, error) {
	node := c.device.Node
	if err := node.SendPayload(&payload.RequestConfigurationNameUID{Category: category, Index: index}, packet.NoAck); err != nil {
		return "", 0, err
	}
	reply, err := awaitPayload[*payload.ReplyConfigurationNameUID](node, defaultReplyTimeout)
	if err != nil {
		return "", 0, err
	}
	return reply.Name, reply.UID, nil
}

// coerceValue accepts either a ready payload.Value or a loosely typed value
// (e.g. from a JSON snapshot) and normalizes it to the device's wire type.
func coerceValue(value any, t payload.ValueType) (payload.Value, error) {
	if v, ok := value.(payload.Value); ok {
		value = v.Data
	}
	return payload.Coerce(value, t)
}
