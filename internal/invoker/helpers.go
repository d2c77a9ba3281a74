package invoker

import (
	"fmt"
	"os"
	"path/filepath"
)

// RebootMarkerExitCode is the reserved exit code tmt-reboot uses to signal
// the invoker that a reboot was requested (spec §4.5 step 4: "exits the
// current script with a reserved marker").
const RebootMarkerExitCode = 193

// AbortMarkerExitCode is the reserved exit code tmt-abort uses to signal a
// run-wide abort (spec §4.5 step 6).
const AbortMarkerExitCode = 194

// WriteHelperScripts generates the three on-guest helper scripts (spec
// §4.5/§6, called out explicitly as a supplemented feature) into dir,
// returning their paths. Each implements the flock-protected pidfile
// protocol: tmt-reboot/tmt-abort record intent under the lock before
// exiting with their reserved marker; tmt-report-result appends one
// subresult line to a file the invoker harvests after the test exits.
func WriteHelperScripts(dir, pidfilePath, lockPath string) (reboot, abort, reportResult string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", "", fmt.Errorf("helper scripts dir %s: %w", dir, err)
	}

	reboot = filepath.Join(dir, "tmt-reboot")
	abort = filepath.Join(dir, "tmt-abort")
	reportResult = filepath.Join(dir, "tmt-report-result")

	if err := writeScript(reboot, rebootScript(pidfilePath, lockPath)); err != nil {
		return "", "", "", err
	}
	if err := writeScript(abort, abortScript(pidfilePath, lockPath)); err != nil {
		return "", "", "", err
	}
	if err := writeScript(reportResult, reportResultScript()); err != nil {
		return "", "", "", err
	}
	return reboot, abort, reportResult, nil
}

func writeScript(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func rebootScript(pidfilePath, lockPath string) string {
	return fmt.Sprintf(`#!/bin/sh
# tmt-reboot: signals the invoker to reboot this guest and re-invoke the
# test with an incremented TMT_REBOOT_COUNT (spec 4.5 step 4).
set -e
(
  flock -x 9
  echo "reboot" > %q
  if [ -n "$1" ] && [ "$1" = "-c" ]; then
    shift
    echo "$1" >> %q
  fi
) 9>%q
exit %d
`, pidfilePath, pidfilePath, lockPath, RebootMarkerExitCode)
}

func abortScript(pidfilePath, lockPath string) string {
	return fmt.Sprintf(`#!/bin/sh
# tmt-abort: marks this test and every remaining test in the run as
# error/skipped (spec 4.5 step 6).
set -e
(
  flock -x 9
  echo "abort" > %q
) 9>%q
exit %d
`, pidfilePath, lockPath, AbortMarkerExitCode)
}

func reportResultScript() string {
	return `#!/bin/sh
# tmt-report-result: appends one subresult record, harvested by the
# invoker after the test script exits (spec 4.5 step 7).
if [ -z "$TMT_TEST_DATA" ]; then
  echo "tmt-report-result: TMT_TEST_DATA not set" >&2
  exit 1
fi
name="$1"
result="$2"
ts=$(date -u +%Y-%m-%dT%H:%M:%SZ)
printf '%s\t%s\t%s\n' "$ts" "$name" "$result" >> "$TMT_TEST_DATA/subresults.tsv"
`
}
