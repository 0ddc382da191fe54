package main

import "context"

// sweep runs the sponsorship maintenance jobs once. Both are idempotent, so
// running it alongside the API's background sweep is harmless.
func (cli *commandLine) sweep(ctx context.Context) error {
	n, err := cli.spoSvc.ProcessExpirations(ctx)
	if err != nil {
		return err
	}
	logger.Printf("expired %d sponsorship opt-out(s)\n", n)

	n, err = cli.spoSvc.RunMonthlyCredits(ctx)
	if err != nil {
		return err
	}
	logger.Printf("credited %d sponsorship(s)\n", n)
	return nil
}
