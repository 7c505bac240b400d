// Package features defines the behavioral feature schema and converts raw
// telemetry records into fixed-order numeric vectors.
package features

// Schema is the ordered list of feature names a model is trained on.
// Vectors are assembled continuous-first then binary, in declaration order;
// the same schema must be used at scoring time as at training time.
type Schema struct {
	Continuous []string `json:"continuous_features"`
	Binary     []string `json:"binary_features"`
}

// DefaultSchema returns the production behavioral telemetry schema.
func DefaultSchema() Schema {
	return Schema{
		Continuous: []string{
			"tap_duration", "swipe_velocity", "touch_pressure", "tap_interval_avg",
			"accel_variance", "gyro_variance", "battery_level", "brightness_level",
			"screen_on_time", "time_of_day_sin", "time_of_day_cos", "wifi_id_hash",
			"gps_latitude", "gps_longitude", "device_orientation", "touch_area",
			"touch_event_count", "app_usage_time",
		},
		Binary: []string{
			"accel_variance_missing", "gyro_variance_missing", "charging_state",
			"wifi_info_missing", "gps_location_missing",
			"day_of_week_mon", "day_of_week_tue", "day_of_week_wed",
			"day_of_week_thu", "day_of_week_fri", "day_of_week_sat", "day_of_week_sun",
		},
	}
}

// Dim returns the total vector width.
func (s Schema) Dim() int {
	return len(s.Continuous) + len(s.Binary)
}

// NumContinuous returns the width of the continuous prefix of a vector.
func (s Schema) NumContinuous() int {
	return len(s.Continuous)
}

// Names returns all feature names in vector order.
func (s Schema) Names() []string {
	names := make([]string, 0, s.Dim())
	names = append(names, s.Continuous...)
	names = append(names, s.Binary...)
	return names
}

// Equal reports whether two schemas describe the same feature layout.
func (s Schema) Equal(other Schema) bool {
	if len(s.Continuous) != len(other.Continuous) || len(s.Binary) != len(other.Binary) {
		return false
	}
	for i, name := range s.Continuous {
		if other.Continuous[i] != name {
			return false
		}
	}
	for i, name := range s.Binary {
		if other.Binary[i] != name {
			return false
		}
	}
	return true
}
