// Package main (cmd/runnerctl) registers runners from the command line and
// manages stored runner credentials.
//
// Register a scaled set of runners and write the Kubernetes manifests:
//
//	runnerctl register -o octo-org -r hello-world -n hello-runners -m 3 \
//	  -a admin-token.txt -p read-token.txt -l gpu --runner-dir /opt/actions-runner \
//	  -f runners.yaml
//
// Registration runs in-process unless --server points at a registration server.
//
// Read a stored bundle back, opening sealed bundles with identity shares:
//
//	runnerctl fetch-secret -o octo-org -r hello-world --runner hello-runners-0 \
//	  --secret-store 'file:///var/lib/runners' --share share-1.txt --share share-3.txt \
//	  --out-dir ./runner
//
// Manage the sealing identity:
//
//	runnerctl keys generate --output identity.txt
//	runnerctl keys split --identity identity.txt --shares 5 --threshold 3
//	runnerctl keys combine --share identity-share-1.txt --share identity-share-4.txt ...
package main
