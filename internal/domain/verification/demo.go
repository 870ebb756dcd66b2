package verification

// DemoCode describes a printable demo code and the verdict it should produce
type DemoCode struct {
	Identifier string `json:"identifier"`
	Label      string `json:"label"`
	Status     Status `json:"status"`
}

var demoRecords = []Record{
	{
		Status: StatusGenuine,
		Details: Details{
			Identifier: "DEMO-GEN-001",
			Name:       "Paracetamol 500mg",
			Brand:      "PharmaCare",
			Batch:      "PCM2024-001",
			Expiry:     "2026-12-31",
		},
	},
	{
		Status: StatusGenuine,
		Details: Details{
			Identifier: "DEMO-GEN-002",
			Name:       "Amoxicillin 500mg",
			Brand:      "MediLife",
			Batch:      "AMX2024-002",
			Expiry:     "2025-08-15",
		},
	},
	{
		Status: StatusGenuine,
		Details: Details{
			Identifier: "DEMO-GEN-003",
			Name:       "Metformin 850mg",
			Brand:      "DiabetCare",
			Batch:      "MET2024-003",
			Expiry:     "2026-03-20",
		},
	},
	{
		Status: StatusGenuine,
		Details: Details{
			Identifier: "DEMO-GEN-004",
			Name:       "Azithromycin 250mg",
			Brand:      "AntiBio Plus",
			Batch:      "AZI2024-004",
			Expiry:     "2025-11-30",
		},
	},
	{Status: StatusCounterfeit, Details: Details{Identifier: "DEMO-FAKE-001"}},
	{Status: StatusCounterfeit, Details: Details{Identifier: "DEMO-FAKE-002"}},
	{Status: StatusUnknown, Details: Details{Identifier: "DEMO-UNKNOWN-001"}},
}

var demoCodes = []DemoCode{
	{Identifier: "DEMO-GEN-001", Label: "Paracetamol 500mg", Status: StatusGenuine},
	{Identifier: "DEMO-GEN-002", Label: "Amoxicillin 500mg", Status: StatusGenuine},
	{Identifier: "DEMO-GEN-003", Label: "Metformin 850mg", Status: StatusGenuine},
	{Identifier: "DEMO-FAKE-001", Label: "Fake Insulin", Status: StatusCounterfeit},
	{Identifier: "DEMO-FAKE-002", Label: "Fake Amlodipine", Status: StatusCounterfeit},
	{Identifier: "DEMO-UNKNOWN-001", Label: "Unknown Medicine", Status: StatusUnknown},
	{Identifier: "DEMO-GEN-004", Label: "Azithromycin 250mg", Status: StatusGenuine},
}

// DemoRecords returns a copy of the demo registry seed
func DemoRecords() []Record {
	out := make([]Record, len(demoRecords))
	copy(out, demoRecords)
	return out
}

// DemoCodes returns a copy of the demo code catalog in display order
func DemoCodes() []DemoCode {
	out := make([]DemoCode, len(demoCodes))
	copy(out, demoCodes)
	return out
}
