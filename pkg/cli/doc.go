/*
Package cli provides helpers shared by the rules command.

Output Formatting:

Command results are printed as text, JSON or YAML:

	formatter, err := cli.NewFormatter(cli.FormatYAML)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, report)

Values that implement TextWriter control their own text rendering.

Progress Reporting:

Bulk operations such as seeding a store report progress on stderr:

	progress := cli.NewProgressReporter(os.Stderr, "rules")
	progress.Start(int64(len(rs)))
	for range rs {
		progress.Increment()
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

Errors:

ExitCode maps the error returned by a command to the process exit status:
1 for failures, 2 for configuration problems and 3 when rules failed
validation.
*/
package cli
