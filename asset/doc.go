/*
Package asset provisions the local files that the engine needs before it can run.

A Provisioner checks whether an asset's path exists, and if not, hands the path to a Fetcher and checks again afterwards.
Provisioning is best-effort: Ensure never returns an error, it reports an Outcome and logs it.
Callers decide what to do about missing assets, usually by attempting to launch anyway and failing loudly if the launch fails.

Fetch failures are classified into two kinds so that operators can tell them apart in logs:

  - network failures (*NetworkError), when the remote resource could not be retrieved
  - local I/O failures (*IOError, or any other error), when the resource could not be written, unpacked, or made executable

Pipeline composes the usual fetch steps (download, unzip, remove the staging file, set the execute bit) into a single Fetcher.
*/
package asset
