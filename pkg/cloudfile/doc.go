/*
Package cloudfile is the file and directory API over remote document storage.

Open wires the configured backend, a retry executor shared by every site, and
a file cache plus background queue per site:

	cfg, err := config.Load("cloudfile.yaml")
	if err != nil {
		return err
	}
	sys, err := cloudfile.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.Close(ctx)

	finance, err := sys.Site("finance")
	if err != nil {
		return err
	}
	if err := finance.WriteAllBytes(ctx, "reports/q1.xlsx", data); err != nil {
		return err
	}
	data, err = finance.ReadAllBytes(ctx, "reports/q1.xlsx") // served from cache

# Background Operations

WriteAllBytesAsync, DeleteAsync and MoveAsync return a queue handle at once.
Failures are reported only through the handle and the onError callback:

	h, err := finance.WriteAllBytesAsync(ctx, "exports/big.csv", csv, nil,
		func(path string, err error) { log.Printf("%s: %v", path, err) })
	...
	err = finance.WaitForUploads(ctx, time.Minute)

# Audit

With audit.enabled every operation logs one record under component "audit"
carrying a correlation id, the operation, site, path, outcome and duration.
Use WithCorrelationID to tie records to a caller's request id.
*/
package cloudfile
