// Package sge implements a CLI composer specialization around Sun Grid
// Engine's qsub/qstat, a supplemented feature per SPEC_FULL.md (not in the
// distilled spec.md, present in original_source's
// pyrc/cliwrapper/sungridengine.py). It builds a qsub command line from named
// options and parses the teacher-of-this-package's favorite trick — a
// qstat -xml piped through tr/sed/column into a fixed-width table — back into
// structured rows.
package sge

import (
	"context"
	"regexp"
	"strings"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/cli"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Composer wraps a Backend for qsub/qstat invocations. It carries no prefix
// of its own (SGE commands aren't a chain of sub-verbs the way git's are),
// so it wraps cli.Composer mainly for a shared Backend/workdir pair.
type Composer struct {
	base   *cli.Composer
	logger hclog.Logger
}

// New returns an SGE composer bound to b, running qsub/qstat from workdir.
// A nil logger defaults to a no-op logger.
func New(b backend.Backend, workdir string, logger hclog.Logger) *Composer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Composer{base: cli.New(b, "", workdir), logger: logger.Named("cli.sge")}
}

// Job is a single row parsed out of qstat's output.
type Job struct {
	ID         string
	Priority   string
	Name       string
	User       string
	State      string
	SubmitDate string
	Slots      string
}

// QsubOptions configures a single qsub submission. Mirrors
// sungridengine.py's qsub() keyword arguments.
type QsubOptions struct {
	BashScript        string
	ScriptParameters  []string
	JobName           string
	EnvVars           []string
	WorkingDirectory  string
	MaximumRunTime    string // default "168:00:00" when empty
	Queue             string
	LogFile           string
	ErrFile           string
	Mail              string
	ParallelEnv       string
	OnHold            bool
	WaitForJobIDs     []string
}

var submissionInfoRE = regexp.MustCompile(`^Your job (\d+) \("(.*)"\) has been submitted`)

// Qsub submits bashScript per opts and returns the new job's ID, parsed from
// the scheduler's "Your job N (...) has been submitted" acknowledgement.
func (c *Composer) Qsub(ctx context.Context, opts QsubOptions) (jobID string, err error) {
	maxRunTime := opts.MaximumRunTime
	if maxRunTime == "" {
		maxRunTime = "168:00:00"
	}

	var sb strings.Builder
	sb.WriteString("qsub")
	if opts.OnHold {
		sb.WriteString(" -h")
	}
	if opts.ParallelEnv != "" {
		sb.WriteString(" -pe " + opts.ParallelEnv)
	}
	if opts.Queue != "" {
		sb.WriteString(" -q " + opts.Queue)
	}
	if opts.JobName != "" {
		sb.WriteString(" -N " + opts.JobName)
	}
	if opts.LogFile != "" {
		sb.WriteString(" -o " + opts.LogFile)
	}
	if opts.ErrFile != "" {
		sb.WriteString(" -e " + opts.ErrFile)
	}
	sb.WriteString(" -l h_rt=" + maxRunTime)
	if opts.WorkingDirectory != "" {
		sb.WriteString(" -wd " + opts.WorkingDirectory)
	} else {
		sb.WriteString(" -cwd")
	}
	if opts.Mail != "" {
		sb.WriteString(" -m ea -M " + opts.Mail)
	}
	if len(opts.EnvVars) > 0 {
		sb.WriteString(" -v " + strings.Join(opts.EnvVars, ","))
	}
	if len(opts.WaitForJobIDs) > 0 {
		sb.WriteString(" -hold_jid " + strings.Join(opts.WaitForJobIDs, ","))
	}
	sb.WriteString(" " + opts.BashScript)
	if len(opts.ScriptParameters) > 0 {
		sb.WriteString(" " + strings.Join(opts.ScriptParameters, " "))
	}

	// qsub's own script runs in a separate shell environment, so no env
	// overlay is passed here — mirroring sungridengine.py's "environment =
	// None" comment.
	out, errLines, _, execErr := c.base.Call(ctx, sb.String(), nil, observer.NewPrettyPrint(c.logger, "sge"))
	if execErr != nil {
		return "", execErr
	}
	if len(errLines) > 0 {
		return "", errors.Errorf("qsub produced stderr: %s", strings.Join(errLines, "; "))
	}
	if len(out) == 0 {
		return "", errors.New("qsub produced no output")
	}
	m := submissionInfoRE.FindStringSubmatch(out[0])
	if m == nil {
		return "", errors.Errorf("unrecognized qsub acknowledgement: %q", out[0])
	}
	return m[1], nil
}

// Qstat runs a formatted `qstat -xml` and parses the resulting column table
// into Jobs, optionally filtered to job prefix and with extra raw flags
// appended to the qstat invocation. Mirrors sungridengine.py's
// __fancyqstatcmd/qstat.
func (c *Composer) Qstat(ctx context.Context, flags []string, jobPrefix string) ([]Job, error) {
	cmd := fancyQstatCmd(flags, jobPrefix)
	out, _, _, err := c.base.Call(ctx, cmd, nil, observer.NewStore())
	if err != nil {
		return nil, err
	}
	return parseQstatLines(out), nil
}

func fancyQstatCmd(flags []string, jobPrefix string) string {
	var sb strings.Builder
	sb.WriteString("qstat -xml ")
	sb.WriteString(strings.Join(flags, " "))
	sb.WriteString(` | tr '\n' ' ' |`)
	sb.WriteString(` sed 's#<job_list[^>]*>#\n#g'| `)
	sb.WriteString(` sed 's#<[^>]*>##g' |`)
	sb.WriteString(` grep " " | column -t`)
	if jobPrefix != "" {
		sb.WriteString(` | grep "` + jobPrefix + `"`)
	}
	return sb.String()
}

func parseQstatLines(lines []string) []Job {
	var jobs []Job
	for _, line := range lines {
		if line == "" {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		job := Job{
			ID:       fields[0],
			Priority: fields[1],
			Name:     fields[2],
			User:     fields[3],
			State:    fields[4],
		}
		if len(fields) > 6 {
			job.SubmitDate = fields[5]
			job.Slots = fields[6]
		} else {
			job.SubmitDate = "pending"
			job.Slots = fields[5]
		}
		jobs = append(jobs, job)
	}
	return jobs
}
