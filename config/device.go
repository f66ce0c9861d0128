package config

// DeviceConfig holds the settings needed to bring up one network device:
// its PCI address and how many receive/transmit queues to initialize.
// Backends that don't support multiple queues (virtio-net) ignore
// RxQueues/TxQueues beyond 1.
type DeviceConfig struct {
	PCIAddress string
	RxQueues   int
	TxQueues   int
}

// DeviceConfigs reads the device.* config keys into one DeviceConfig per
// entry under device.interfaces, falling back to a single device built
// from device.pci_address when device.interfaces is absent — the common
// case of driving exactly one NIC.
func (c *C) DeviceConfigs() []DeviceConfig {
	if raw, ok := c.Get("device.interfaces").([]any); ok {
		configs := make([]DeviceConfig, 0, len(raw))
		for _, entry := range raw {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			configs = append(configs, deviceConfigFromMap(m))
		}
		if len(configs) > 0 {
			return configs
		}
	}

	addr := c.GetString("device.pci_address", "")
	if addr == "" {
		return nil
	}
	return []DeviceConfig{{
		PCIAddress: addr,
		RxQueues:   c.GetInt("device.rx_queues", 1),
		TxQueues:   c.GetInt("device.tx_queues", 1),
	}}
}

func deviceConfigFromMap(m map[string]any) DeviceConfig {
	dc := DeviceConfig{RxQueues: 1, TxQueues: 1}
	if v, ok := m["pci_address"]; ok {
		dc.PCIAddress = toString(v)
	}
	if v, ok := m["rx_queues"]; ok {
		dc.RxQueues = toInt(v, 1)
	}
	if v, ok := m["tx_queues"]; ok {
		dc.TxQueues = toInt(v, 1)
	}
	return dc
}

func toString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func toInt(v any, d int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return d
	}
}
