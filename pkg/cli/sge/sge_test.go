package sge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFancyQstatCmdAppendsJobPrefixFilter(t *testing.T) {
	cmd := fancyQstatCmd(nil, "12345")
	assert.Contains(t, cmd, "qstat -xml")
	assert.Contains(t, cmd, `grep "12345"`)
}

func TestFancyQstatCmdOmitsFilterWhenNoPrefix(t *testing.T) {
	cmd := fancyQstatCmd([]string{"-u", "me"}, "")
	assert.Contains(t, cmd, "-u me")
	assert.NotContains(t, cmd, `grep "`)
}

func TestParseQstatLinesWithSubmitDate(t *testing.T) {
	jobs := parseQstatLines([]string{
		"123 0.50000 myjob alice r 07/30/2026 12:00:00 node01 1",
		"",
	})
	assert.Len(t, jobs, 1)
	assert.Equal(t, Job{
		ID: "123", Priority: "0.50000", Name: "myjob", User: "alice",
		State: "r", SubmitDate: "07/30/2026", Slots: "12:00:00",
	}, jobs[0])
}

func TestParseQstatLinesPendingWithNoSubmitDate(t *testing.T) {
	jobs := parseQstatLines([]string{
		"124 0.50000 otherjob bob qw 1",
	})
	assert.Len(t, jobs, 1)
	assert.Equal(t, "pending", jobs[0].SubmitDate)
	assert.Equal(t, "1", jobs[0].Slots)
}

func TestParseQstatLinesStopsAtBlankLine(t *testing.T) {
	jobs := parseQstatLines([]string{
		"",
		"123 0.5 job alice r 07/30/2026 12:00:00 node01 1",
	})
	assert.Empty(t, jobs)
}
