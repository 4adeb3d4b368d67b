package geo

import "math"

// Place is a reverse-geocoding result.
type Place struct {
	City        string
	CountryCode string // ISO 3166-1 alpha-2
	Latitude    float64
	Longitude   float64
	Population  int
}

// DefaultMinPopulation is the population floor for reverse geocoding.
// Base stations sit in fields and on rooftops; snapping them to tiny
// villages produces identifiers nobody recognizes.
const DefaultMinPopulation = 10000

// ReverseGeocode returns the nearest city with at least minPopulation
// inhabitants. A minPopulation of 0 uses DefaultMinPopulation. The
// second return value is false when the table has no qualifying entry
// (it always has some, so false only guards an empty build).
func ReverseGeocode(lat, lon float64, minPopulation int) (Place, bool) {
	if minPopulation <= 0 {
		minPopulation = DefaultMinPopulation
	}

	best := -1
	bestDist := math.MaxFloat64
	for i := range cities {
		if cities[i].Population < minPopulation {
			continue
		}
		d := surfaceDistance(lat, lon, cities[i].Latitude, cities[i].Longitude)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}

	if best < 0 {
		return Place{}, false
	}
	return cities[best], true
}

// surfaceDistance is the haversine great-circle distance in kilometers.
func surfaceDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180.0

	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// cities is the embedded reverse-geocoding table: major population
// centers worldwide, densest in regions where RTK networks operate.
var cities = []Place{
	{"Beijing", "CN", 39.9042, 116.4074, 21540000},
	{"Shanghai", "CN", 31.2304, 121.4737, 26320000},
	{"Guangzhou", "CN", 23.1291, 113.2644, 14900000},
	{"Shenzhen", "CN", 22.5431, 114.0579, 12530000},
	{"Chengdu", "CN", 30.5728, 104.0668, 16330000},
	{"Wuhan", "CN", 30.5928, 114.3055, 11080000},
	{"Xi'an", "CN", 34.3416, 108.9398, 12000000},
	{"Chongqing", "CN", 29.4316, 106.9123, 15870000},
	{"Tianjin", "CN", 39.3434, 117.3616, 13870000},
	{"Nanjing", "CN", 32.0603, 118.7969, 8500000},
	{"Hangzhou", "CN", 30.2741, 120.1551, 10360000},
	{"Guilin", "CN", 25.2736, 110.2900, 4930000},
	{"Nanning", "CN", 22.8170, 108.3665, 7250000},
	{"Kunming", "CN", 24.8801, 102.8329, 6850000},
	{"Changsha", "CN", 28.2282, 112.9388, 8150000},
	{"Zhengzhou", "CN", 34.7466, 113.6254, 10120000},
	{"Qingdao", "CN", 36.0671, 120.3826, 9500000},
	{"Shenyang", "CN", 41.8057, 123.4315, 8290000},
	{"Harbin", "CN", 45.8038, 126.5340, 9500000},
	{"Urumqi", "CN", 43.8256, 87.6168, 3500000},
	{"Lhasa", "CN", 29.6520, 91.1721, 560000},
	{"Hong Kong", "HK", 22.3193, 114.1694, 7480000},
	{"Taipei", "TW", 25.0330, 121.5654, 2646000},
	{"Tokyo", "JP", 35.6762, 139.6503, 13960000},
	{"Osaka", "JP", 34.6937, 135.5023, 2750000},
	{"Sapporo", "JP", 43.0618, 141.3545, 1970000},
	{"Seoul", "KR", 37.5665, 126.9780, 9770000},
	{"Busan", "KR", 35.1796, 129.0756, 3400000},
	{"Ulaanbaatar", "MN", 47.8864, 106.9057, 1500000},
	{"Hanoi", "VN", 21.0285, 105.8542, 8050000},
	{"Ho Chi Minh City", "VN", 10.8231, 106.6297, 8990000},
	{"Bangkok", "TH", 13.7563, 100.5018, 10540000},
	{"Singapore", "SG", 1.3521, 103.8198, 5640000},
	{"Kuala Lumpur", "MY", 3.1390, 101.6869, 1800000},
	{"Jakarta", "ID", -6.2088, 106.8456, 10560000},
	{"Manila", "PH", 14.5995, 120.9842, 1780000},
	{"Delhi", "IN", 28.7041, 77.1025, 30290000},
	{"Mumbai", "IN", 19.0760, 72.8777, 20410000},
	{"Bangalore", "IN", 12.9716, 77.5946, 12340000},
	{"Kolkata", "IN", 22.5726, 88.3639, 14850000},
	{"Karachi", "PK", 24.8607, 67.0011, 16090000},
	{"Dhaka", "BD", 23.8103, 90.4125, 21000000},
	{"Kathmandu", "NP", 27.7172, 85.3240, 1440000},
	{"Almaty", "KZ", 43.2220, 76.8512, 2000000},
	{"Tashkent", "UZ", 41.2995, 69.2401, 2570000},
	{"Tehran", "IR", 35.6892, 51.3890, 8690000},
	{"Dubai", "AE", 25.2048, 55.2708, 3330000},
	{"Riyadh", "SA", 24.7136, 46.6753, 7680000},
	{"Istanbul", "TR", 41.0082, 28.9784, 15460000},
	{"Ankara", "TR", 39.9334, 32.8597, 5660000},
	{"Tel Aviv", "IL", 32.0853, 34.7818, 460000},
	{"Cairo", "EG", 30.0444, 31.2357, 20900000},
	{"Lagos", "NG", 6.5244, 3.3792, 14860000},
	{"Nairobi", "KE", -1.2921, 36.8219, 4400000},
	{"Johannesburg", "ZA", -26.2041, 28.0473, 5780000},
	{"Cape Town", "ZA", -33.9249, 18.4241, 4620000},
	{"Casablanca", "MA", 33.5731, -7.5898, 3360000},
	{"Moscow", "RU", 55.7558, 37.6173, 12540000},
	{"Saint Petersburg", "RU", 59.9311, 30.3609, 5380000},
	{"Novosibirsk", "RU", 55.0084, 82.9357, 1620000},
	{"Vladivostok", "RU", 43.1332, 131.9113, 600000},
	{"Kyiv", "UA", 50.4501, 30.5234, 2960000},
	{"Warsaw", "PL", 52.2297, 21.0122, 1790000},
	{"Prague", "CZ", 50.0755, 14.4378, 1310000},
	{"Vienna", "AT", 48.2082, 16.3738, 1900000},
	{"Budapest", "HU", 47.4979, 19.0402, 1750000},
	{"Bucharest", "RO", 44.4268, 26.1025, 1830000},
	{"Athens", "GR", 37.9838, 23.7275, 660000},
	{"Rome", "IT", 41.9028, 12.4964, 2870000},
	{"Milan", "IT", 45.4642, 9.1900, 1390000},
	{"Zurich", "CH", 47.3769, 8.5417, 430000},
	{"Munich", "DE", 48.1351, 11.5820, 1470000},
	{"Berlin", "DE", 52.5200, 13.4050, 3770000},
	{"Frankfurt", "DE", 50.1109, 8.6821, 760000},
	{"Hamburg", "DE", 53.5511, 9.9937, 1840000},
	{"Amsterdam", "NL", 52.3676, 4.9041, 870000},
	{"Brussels", "BE", 50.8503, 4.3517, 1210000},
	{"Paris", "FR", 48.8566, 2.3522, 2140000},
	{"Lyon", "FR", 45.7640, 4.8357, 520000},
	{"Madrid", "ES", 40.4168, -3.7038, 3220000},
	{"Barcelona", "ES", 41.3851, 2.1734, 1620000},
	{"Lisbon", "PT", 38.7223, -9.1393, 500000},
	{"London", "GB", 51.5074, -0.1278, 8980000},
	{"Manchester", "GB", 53.4808, -2.2426, 550000},
	{"Edinburgh", "GB", 55.9533, -3.1883, 540000},
	{"Dublin", "IE", 53.3498, -6.2603, 1170000},
	{"Stockholm", "SE", 59.3293, 18.0686, 980000},
	{"Oslo", "NO", 59.9139, 10.7522, 700000},
	{"Copenhagen", "DK", 55.6761, 12.5683, 630000},
	{"Helsinki", "FI", 60.1699, 24.9384, 650000},
	{"Reykjavik", "IS", 64.1466, -21.9426, 130000},
	{"New York", "US", 40.7128, -74.0060, 8340000},
	{"Los Angeles", "US", 34.0522, -118.2437, 3970000},
	{"Chicago", "US", 41.8781, -87.6298, 2690000},
	{"Houston", "US", 29.7604, -95.3698, 2320000},
	{"Denver", "US", 39.7392, -104.9903, 730000},
	{"Seattle", "US", 47.6062, -122.3321, 750000},
	{"San Francisco", "US", 37.7749, -122.4194, 880000},
	{"Miami", "US", 25.7617, -80.1918, 470000},
	{"Anchorage", "US", 61.2181, -149.9003, 290000},
	{"Toronto", "CA", 43.6532, -79.3832, 2930000},
	{"Vancouver", "CA", 49.2827, -123.1207, 680000},
	{"Montreal", "CA", 45.5017, -73.5673, 1780000},
	{"Mexico City", "MX", 19.4326, -99.1332, 9210000},
	{"Bogota", "CO", 4.7110, -74.0721, 7410000},
	{"Lima", "PE", -12.0464, -77.0428, 9750000},
	{"Quito", "EC", -0.1807, -78.4678, 2010000},
	{"Santiago", "CL", -33.4489, -70.6693, 6160000},
	{"Buenos Aires", "AR", -34.6037, -58.3816, 3080000},
	{"Sao Paulo", "BR", -23.5505, -46.6333, 12330000},
	{"Rio de Janeiro", "BR", -22.9068, -43.1729, 6750000},
	{"Brasilia", "BR", -15.8267, -47.9218, 3060000},
	{"Sydney", "AU", -33.8688, 151.2093, 5310000},
	{"Melbourne", "AU", -37.8136, 144.9631, 5080000},
	{"Brisbane", "AU", -27.4698, 153.0251, 2560000},
	{"Perth", "AU", -31.9505, 115.8605, 2090000},
	{"Auckland", "NZ", -36.8485, 174.7633, 1660000},
	{"Wellington", "NZ", -41.2866, 174.7756, 420000},
}
