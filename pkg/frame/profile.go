package frame

import(
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

// A Profile describes one instrument's data layout and fit defaults:
// which HDUs carry pixels and WCS, the fallback flux unit, and the
// Moffat power index per instrument configuration.
type Profile struct {
	DataHDU   int
	HeaderHDU int
	Unit      string

	AlphaDefault float64            // Moffat power index when the config is unknown
	AlphaByID    map[string]float64 // overrides keyed by instrument config ID

	EdgeMargin   int     // pixels trimmed from fit residuals
	FWHM0        float64 // arcsec, seed for the FWHM fit
	CutoutArcsec float64 // angular size of the recentering patch
	NPix         int     // final cutout side, pixels
	Oversampling int     // PSF builder oversampling
}

type Config struct {
	Verbosity int

	Profiles map[string]Profile

	// Values figured out at startup, kept here for the rest of the app
	OutputDir string
}

// Alpha returns the Moffat power index for an instrument config ID,
// falling back to the profile default when the ID is unlisted.
func (p Profile)Alpha(configID string) float64 {
	if a, ok := p.AlphaByID[configID]; ok {
		return a
	}
	return p.AlphaDefault
}

func (p Profile)Validate() error {
	if p.AlphaDefault <= 0 {
		return fmt.Errorf("profile: alphadefault must be positive")
	}
	if p.FWHM0 <= 0 {
		return fmt.Errorf("profile: fwhm0 must be positive")
	}
	return nil
}

// DefaultProfile carries the MUSE wide-field values; other instruments
// override via config.
func DefaultProfile() Profile {
	return Profile{
		DataHDU:      1,
		HeaderHDU:    1,
		Unit:         "1e-20 erg / (Angstrom s cm2)",
		AlphaDefault: 2.8,
		AlphaByID:    map[string]float64{"WFM-AO-N": 2.3, "WFM-AO-E": 2.3},
		EdgeMargin:   10,
		FWHM0:        0.8,
		CutoutArcsec: 7.0,
		NPix:         25,
		Oversampling: 4,
	}
}

func NewConfig() Config {
	return Config{
		Profiles: map[string]Profile{"muse": DefaultProfile()},
	}
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return NewConfig(), fmt.Errorf("config read: %v", err)
	}
	return newConfigFromYaml(b)
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

func (c Config)AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Fatalf("Can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// GetProfile is fatal on an unknown name; a run against the wrong
// instrument layout produces silently wrong numbers, never a crash, so
// fail before any data is touched.
func (c Config)GetProfile(name string) Profile {
	p, ok := c.Profiles[name]
	if !ok {
		log.Fatalf("no instrument profile named '%s'", name)
	}
	return p
}
