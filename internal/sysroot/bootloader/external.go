package bootloader

import (
	"context"
	"fmt"

	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/pkg/executer"
	"github.com/bootwright/bootwright/pkg/log"
)

// externalTool backs the drivers whose real work happens in a vendor
// binary after the visible cutover (zipl on s390x, aboot on Android
// boot images). WriteConfig only records intent via the update stamp;
// PostBLSSync runs the tool and clears it. The stamp surviving a crash
// between cutover and post-sync is what makes the retry safe.
type externalTool struct {
	kind   Kind
	binary string
	args   []string
	rw     fileio.ReadWriter
	exec   executer.Executer
	log    *log.PrefixLogger
}

func (e *externalTool) Name() string { return string(e.kind) }

func (e *externalTool) IsAtomic() bool { return true }

// Query always reports inactive: these drivers are never auto-detected
// and must be configured explicitly.
func (e *externalTool) Query() (bool, error) { return false, nil }

func (e *externalTool) WriteConfig(ctx context.Context, newBootversion int, deployments []*deployment.Deployment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeStamp(e.rw, e.kind); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrBootloaderWrite, err)
	}
	return nil
}

func (e *externalTool) PostBLSSync(ctx context.Context) error {
	present, err := StampPresent(e.rw)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}

	e.log.Infof("Running %s", e.binary)
	_, stderr, code := e.exec.ExecuteWithContext(ctx, e.binary, e.args...)
	if code != 0 {
		return fmt.Errorf("%w: %w", errors.ErrBootloaderWrite, executer.FormatError(e.binary, stderr, code))
	}
	return e.rw.RemoveFile(UpdateStamp)
}

// Aboot drives the aboot-deploy tool used on Android-bootloader hosts.
type Aboot struct {
	externalTool
}

func NewAboot(rw fileio.ReadWriter, exec executer.Executer, log *log.PrefixLogger) *Aboot {
	return &Aboot{externalTool{
		kind:   KindAboot,
		binary: "aboot-deploy",
		rw:     rw,
		exec:   exec,
		log:    log,
	}}
}

// Zipl drives the s390x zipl installer.
type Zipl struct {
	externalTool
}

func NewZipl(rw fileio.ReadWriter, exec executer.Executer, log *log.PrefixLogger) *Zipl {
	return &Zipl{externalTool{
		kind:   KindZipl,
		binary: "zipl",
		rw:     rw,
		exec:   exec,
		log:    log,
	}}
}
