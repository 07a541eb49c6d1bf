package utils

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from either a duration string
// ("30s", "5m") or a bare number of seconds.
type Duration time.Duration

func (d Duration) Value() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return ErrInErr{ErrDesc: "bad duration", ErrDetail: err, Data: s}
		}
		*d = Duration(dur)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return ErrInErr{ErrDesc: "bad duration", ErrDetail: err}
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

var _ fmt.Stringer = Duration(0)
