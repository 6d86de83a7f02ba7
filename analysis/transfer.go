package analysis

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/utils"
)

// remoteTarget is where rsync copies to. Without a host the destination
// is a local path.
func remoteTarget(cfg config.TransferConfig, dest string) string {
	if cfg.Host == "" {
		return dest
	}
	if cfg.User == "" {
		return cfg.Host + ":" + dest
	}
	return cfg.User + "@" + cfg.Host + ":" + dest
}

// rsyncCommand copies the sources into dest with the configured options
// and exclude patterns
func rsyncCommand(cfg config.TransferConfig, dest string, sources ...string) string {
	parts := []string{"rsync"}
	parts = append(parts, cfg.RsyncOptions...)
	for _, ex := range cfg.Exclude {
		parts = append(parts, "--exclude="+utils.Quote(ex))
	}
	for _, s := range sources {
		parts = append(parts, utils.Quote(s))
	}
	parts = append(parts, utils.Quote(remoteTarget(cfg, dest)))
	return strings.Join(parts, " ")
}

// TransferRun rsyncs the run folder to the analysis server. The
// transferring file marks the run while rsync is running; a successful
// transfer is logged in the transfer log and the analysis trigger, when
// configured, is called afterwards.
func (p *Processor) TransferRun(ctx context.Context, runDir string) error {
	if err := p.cfg.Require("transfer"); err != nil {
		return err
	}
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return errors.Wrap(err, "could not resolve run directory")
	}
	id := filepath.Base(runDir)
	sentinel := filepath.Join(runDir, illumina.TransferringFile)
	ok, err := utils.AcquireSentinel(sentinel)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrTransferring, "%s", id)
	}

	cfg := p.cfg.Transfer
	sp.Info.Printf("Transferring %s to %s\n", id, remoteTarget(cfg, cfg.Destination))
	_, err = p.shell.Run(rsyncCommand(cfg, cfg.Destination, runDir))
	if relErr := utils.ReleaseSentinel(sentinel); relErr != nil {
		sp.Warning.Println(relErr)
	}
	if err != nil {
		if mailErr := p.mailer.Send(p.mailer.Subject(id), utils.Fs("Transfer of %s failed:\n\n%v\n", id, err)); mailErr != nil {
			sp.Warning.Println(mailErr)
		}
		return errors.Wrapf(err, "could not transfer %s", id)
	}
	if cfg.TransferLog != "" {
		if err := utils.AppendTSV(cfg.TransferLog, id, utils.Now().Format(utils.TimeStamp)); err != nil {
			return err
		}
	}
	sp.Info.Printf("Transferred %s\n", id)

	if cfg.TriggerURL != "" {
		if err := p.triggerAnalysis(ctx, id); err != nil {
			sp.Error.Printf("Could not start analysis of %s: %v\n", id, err)
		}
	}
	return nil
}

// triggerAnalysis tells the analysis server that the flowcell has arrived
func (p *Processor) triggerAnalysis(ctx context.Context, id string) error {
	cfg := p.cfg.Transfer
	u, err := url.Parse(cfg.TriggerURL)
	if err != nil {
		return errors.Wrapf(err, "invalid trigger url %q", cfg.TriggerURL)
	}
	q := u.Query()
	q.Set("flowcell", id)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "could not build trigger request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "trigger request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errors.Errorf("trigger answered %s", resp.Status)
	}
	sp.Info.Printf("Started analysis of %s\n", id)
	if cfg.AnalysisLog == "" {
		return nil
	}
	return utils.AppendTSV(cfg.AnalysisLog, id, utils.Now().Format(utils.TimeStamp))
}
