package catalog

import "github.com/shopspring/decimal"

type seedPart struct {
	category string
	name     string
	price    string
	specs    map[string]string
}

var seedParts = []seedPart{
	{"CPU", "AMD Ryzen 5 7600", "199.00", map[string]string{"core_count": "6", "boost_clock": "5.1", "socket": "AM5", "tdp": "65"}},
	{"CPU", "AMD Ryzen 5 7600X", "229.00", map[string]string{"core_count": "6", "boost_clock": "5.3", "socket": "AM5", "tdp": "105"}},
	{"CPU", "AMD Ryzen 7 7800X3D", "399.00", map[string]string{"core_count": "8", "boost_clock": "5.0", "socket": "AM5", "tdp": "120"}},
	{"CPU", "Intel Core i5-13400F", "189.00", map[string]string{"core_count": "10", "boost_clock": "4.6", "socket": "LGA1700", "tdp": "65"}},
	{"CPU", "Intel Core i7-14700K", "389.00", map[string]string{"core_count": "20", "boost_clock": "5.6", "socket": "LGA1700", "tdp": "125"}},

	{"GPU", "AMD Radeon RX 7600", "269.00", map[string]string{"chipset": "Radeon RX 7600", "memory": "8", "length": "204"}},
	{"GPU", "NVIDIA GeForce RTX 4060", "299.00", map[string]string{"chipset": "GeForce RTX 4060", "memory": "8", "length": "240"}},
	{"GPU", "NVIDIA GeForce RTX 4070", "549.00", map[string]string{"chipset": "GeForce RTX 4070", "memory": "12", "length": "244"}},
	{"GPU", "AMD Radeon RX 7800 XT", "499.00", map[string]string{"chipset": "Radeon RX 7800 XT", "memory": "16", "length": "267"}},
	{"GPU", "NVIDIA GeForce RTX 4080 Super", "999.00", map[string]string{"chipset": "GeForce RTX 4080 Super", "memory": "16", "length": "310"}},

	{"Motherboard", "MSI B650 Gaming Plus WiFi", "169.00", map[string]string{"socket": "AM5", "form_factor": "ATX", "memory_slots": "4"}},
	{"Motherboard", "ASRock B650M Pro RS", "139.00", map[string]string{"socket": "AM5", "form_factor": "Micro ATX", "memory_slots": "4"}},
	{"Motherboard", "MSI PRO B760-P WiFi DDR4", "139.00", map[string]string{"socket": "LGA1700", "form_factor": "ATX", "memory_slots": "4"}},
	{"Motherboard", "ASUS ROG Strix Z790-E Gaming WiFi", "449.00", map[string]string{"socket": "LGA1700", "form_factor": "ATX", "memory_slots": "4"}},

	{"RAM", "Corsair Vengeance 32GB DDR5-6000 CL30", "109.00", map[string]string{"speed": "DDR5-6000", "modules": "2 x 16GB", "cas_latency": "30"}},
	{"RAM", "G.Skill Flare X5 32GB DDR5-6000 CL36", "94.00", map[string]string{"speed": "DDR5-6000", "modules": "2 x 16GB", "cas_latency": "36"}},
	{"RAM", "Corsair Vengeance LPX 16GB DDR4-3200", "42.00", map[string]string{"speed": "DDR4-3200", "modules": "2 x 8GB", "cas_latency": "16"}},

	{"Storage", "Samsung 990 Pro 2TB", "169.00", map[string]string{"capacity": "2000", "type": "SSD", "interface": "M.2 PCIe 4.0 X4"}},
	{"Storage", "WD Black SN770 1TB", "79.00", map[string]string{"capacity": "1000", "type": "SSD", "interface": "M.2 PCIe 4.0 X4"}},
	{"Storage", "Crucial P3 Plus 2TB", "109.00", map[string]string{"capacity": "2000", "type": "SSD", "interface": "M.2 PCIe 4.0 X4"}},

	{"PSU", "Corsair RM750e", "99.00", map[string]string{"wattage": "750", "efficiency": "gold", "modular": "Full"}},
	{"PSU", "Seasonic Focus GX-650", "89.00", map[string]string{"wattage": "650", "efficiency": "gold", "modular": "Full"}},
	{"PSU", "be quiet! Dark Power 13 1000W", "259.00", map[string]string{"wattage": "1000", "efficiency": "titanium", "modular": "Full"}},

	{"Case", "Fractal Design North", "139.00", map[string]string{"type": "ATX Mid Tower", "color": "Black/Walnut"}},
	{"Case", "Lian Li Lancool 216", "99.00", map[string]string{"type": "ATX Mid Tower", "color": "White"}},
	{"Case", "NZXT H5 Flow", "89.00", map[string]string{"type": "ATX Mid Tower", "color": "Pink"}},

	{"Cooler", "Thermalright Peerless Assassin 120 SE", "35.00", map[string]string{"type": "Air", "noise_level": "25.6"}},
	{"Cooler", "Noctua NH-D15", "109.00", map[string]string{"type": "Air", "noise_level": "24.6"}},
	{"Cooler", "Arctic Liquid Freezer III 360", "119.00", map[string]string{"type": "Liquid", "radiator": "360"}},
}

// SeedItems returns the built-in starter catalog so retrieval works without
// any part dumps on disk.
func SeedItems() []CandidateItem {
	items := make([]CandidateItem, 0, len(seedParts))
	for _, p := range seedParts {
		specs := make(map[string]string, len(p.specs))
		for k, v := range p.specs {
			specs[k] = v
		}
		items = append(items, CandidateItem{
			ID:       ItemID(p.category, p.name),
			Category: p.category,
			Name:     p.name,
			Price:    decimal.RequireFromString(p.price),
			Specs:    specs,
			Source:   "seed",
		})
	}
	return items
}
