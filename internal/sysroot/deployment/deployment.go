// Package deployment defines the immutable record describing one
// installed, bootable filesystem tree.
package deployment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bootwright/bootwright/internal/sysroot/bootconfig"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
)

// Unlocked describes whether and how a deployment root has been made
// mutable.
type Unlocked string

const (
	UnlockedNone        Unlocked = "none"
	UnlockedDevelopment Unlocked = "development"
	UnlockedHotfix      Unlocked = "hotfix"
	UnlockedTransient   Unlocked = "transient"
)

var checksumRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateChecksum checks a 64 lowercase-hex commit or boot checksum.
func ValidateChecksum(csum string) error {
	if !checksumRe.MatchString(csum) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidChecksum, csum)
	}
	return nil
}

// ValidateOsname rejects names unusable as path components.
func ValidateOsname(osname string) error {
	if osname == "" || strings.ContainsAny(osname, "/ \t\n") || osname == "." || osname == ".." {
		return fmt.Errorf("%w: %q", errors.ErrInvalidOsname, osname)
	}
	return nil
}

// Deployment is one installed tree. Values are immutable after
// construction; the writer derives new records rather than mutating.
type Deployment struct {
	osname       string
	csum         string
	deploySerial int
	bootCsum     string
	bootSerial   int
	bootConfig   *bootconfig.BootConfig
	origin       *Origin
	unlocked     Unlocked
	index        int
}

// New builds a deployment record. bootcsum and bootserial are assigned
// later, during kernel staging and write.
func New(osname, csum string, deploySerial int) (*Deployment, error) {
	if err := ValidateOsname(osname); err != nil {
		return nil, err
	}
	if err := ValidateChecksum(csum); err != nil {
		return nil, err
	}
	if deploySerial < 0 {
		return nil, fmt.Errorf("negative deploy serial %d", deploySerial)
	}
	return &Deployment{
		osname:       osname,
		csum:         csum,
		deploySerial: deploySerial,
		bootSerial:   -1,
		unlocked:     UnlockedNone,
		index:        -1,
	}, nil
}

func (d *Deployment) Osname() string     { return d.osname }
func (d *Deployment) Csum() string       { return d.csum }
func (d *Deployment) DeploySerial() int  { return d.deploySerial }
func (d *Deployment) BootCsum() string   { return d.bootCsum }
func (d *Deployment) BootSerial() int    { return d.bootSerial }
func (d *Deployment) Unlocked() Unlocked { return d.unlocked }
func (d *Deployment) Index() int         { return d.index }

// BootConfig returns the deployment's boot entry, or nil before staging.
func (d *Deployment) BootConfig() *bootconfig.BootConfig { return d.bootConfig }

// Origin returns the deployment's origin, or nil when unknown.
func (d *Deployment) Origin() *Origin { return d.origin }

// Name is the `<csum>.<deployserial>` directory name of the checkout.
func (d *Deployment) Name() string {
	return fmt.Sprintf("%s.%d", d.csum, d.deploySerial)
}

func (d *Deployment) String() string {
	return fmt.Sprintf("%s %s.%d", d.osname, d.csum, d.deploySerial)
}

// Equal reports identity of the (osname, csum, deployserial) triple.
func (d *Deployment) Equal(other *Deployment) bool {
	return d.osname == other.osname && d.csum == other.csum && d.deploySerial == other.deploySerial
}

// WithBootCsum derives a copy carrying the given boot checksum.
func (d *Deployment) WithBootCsum(bootCsum string) *Deployment {
	out := *d
	out.bootCsum = bootCsum
	return &out
}

// WithBootSerial derives a copy carrying the given boot serial.
func (d *Deployment) WithBootSerial(serial int) *Deployment {
	out := *d
	out.bootSerial = serial
	return &out
}

// WithBootConfig derives a copy carrying the given boot entry.
func (d *Deployment) WithBootConfig(cfg *bootconfig.BootConfig) *Deployment {
	out := *d
	out.bootConfig = cfg
	return &out
}

// WithOrigin derives a copy carrying the given origin.
func (d *Deployment) WithOrigin(origin *Origin) *Deployment {
	out := *d
	if origin != nil {
		out.unlocked = origin.Unlocked()
	}
	out.origin = origin
	return &out
}

// WithIndex derives a copy carrying the menu index.
func (d *Deployment) WithIndex(index int) *Deployment {
	out := *d
	out.index = index
	return &out
}

// Dir is the checkout path relative to the sysroot root.
func (d *Deployment) Dir() string {
	return fmt.Sprintf("ostree/deploy/%s/deploy/%s", d.osname, d.Name())
}

// OriginPath is the origin file path relative to the sysroot root.
func (d *Deployment) OriginPath() string {
	return d.Dir() + ".origin"
}

// VarDir is the shared mutable state path relative to the sysroot root.
func (d *Deployment) VarDir() string {
	return fmt.Sprintf("ostree/deploy/%s/var", d.osname)
}

// BootlinkPath is the `ostree=` karg value for the given bootversion.
func (d *Deployment) BootlinkPath(bootversion int) string {
	return fmt.Sprintf("/ostree/boot.%d/%s/%s/%d", bootversion, d.osname, d.bootCsum, d.bootSerial)
}

// AllocateDeploySerial returns the next free serial for (osname, csum)
// among existing deployments.
func AllocateDeploySerial(existing []*Deployment, osname, csum string) int {
	next := 0
	for _, d := range existing {
		if d.osname == osname && d.csum == csum && d.deploySerial >= next {
			next = d.deploySerial + 1
		}
	}
	return next
}

// AssignBootSerials groups the vector by bootcsum in order and numbers
// each group from zero, so deployments sharing a kernel coexist under
// distinct bootlinks. Assignment is a pure function of the vector.
func AssignBootSerials(deployments []*Deployment) []*Deployment {
	counts := map[string]int{}
	out := make([]*Deployment, 0, len(deployments))
	for _, d := range deployments {
		serial := counts[d.bootCsum]
		counts[d.bootCsum]++
		out = append(out, d.WithBootSerial(serial))
	}
	return out
}
