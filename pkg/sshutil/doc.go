// Package sshutil provides SSH client, connection pool, and SFTP utilities for network device automation.
//
// This package is the transport layer for CustomTools: every tool that talks
// to a switch (bulk commands, FDB searches, config backups, interactive
// sessions) goes through the [Pool] and [Client] types defined here.
//
// # Overview
//
// The package provides three main components:
//
//   - [Client]: a single SSH connection with keepalive and command execution
//   - [Pool]: a per-target connection pool that probes liveness before reuse
//   - [RemoteFiles]: read access to device filesystems over SFTP
//
// # Basic Usage
//
//	// Configure SSH credentials shared by all targets
//	base := &sshutil.Config{
//		User:     "admin",
//		Password: "secret",
//	}
//
//	pool, err := sshutil.NewPool(base)
//	if err != nil {
//		return err
//	}
//	defer pool.CloseAll()
//
//	// Acquire dials on first use and reuses the live connection after that
//	conn, err := pool.Acquire(ctx, "10.10.1.1")
//	if err != nil {
//		return err
//	}
//	defer pool.Release("10.10.1.1")
//
//	result, err := conn.Run(ctx, "show version")
//	if err != nil {
//		return err
//	}
//	fmt.Print(result.Stdout)
//
// A [Client] can also be used on its own when pooling is not needed:
//
//	client, err := sshutil.NewClient(base.WithHost("10.10.1.1"))
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close()
//
//	files := sshutil.NewRemoteFiles(client)
//	if err := files.Open(ctx); err != nil {
//		return err
//	}
//	defer files.Close()
//
//	data, err := files.ReadFile("/config/primary.cfg")
//
// # Configuration from Environment
//
// The package supports loading configuration from environment variables using
// the Docker secrets pattern (values can be in files via _FILE suffix):
//
//	config, err := sshutil.LoadConfig("CUSTOMTOOLS_SSH_")
//
// This will look for environment variables like:
//   - CUSTOMTOOLS_SSH_HOST
//   - CUSTOMTOOLS_SSH_USER
//   - CUSTOMTOOLS_SSH_PASSWORD (or CUSTOMTOOLS_SSH_PASSWORD_FILE for Docker secrets)
//
// # Connection Lifecycle
//
// Each pool slot moves through a small state machine: disconnected before the
// first dial, connecting while a dial is in flight, connected once the
// handshake completes, failed when a dial or probe fails (the slot is retained
// so a later Acquire can retry), and closed once the slot has been removed.
// Acquire sends an SSH keepalive request before handing out a cached
// connection; a dead connection is torn down and redialed transparently.
//
// # Security Considerations
//
// By default, the package disables strict host key checking because switch
// fleets are reached over management VLANs and devices are reprovisioned
// often. For stricter environments, set StrictHostKeyChecking to true and
// provide a known_hosts file path; host keys are then verified against it.
//
// Setting LegacyAlgorithms additionally offers deprecated key exchanges,
// ciphers, and host key algorithms during the handshake, for firmware that
// never learned the modern set. Modern algorithms stay first in the
// preference order, so devices that can negotiate them still do.
//
// SSH key-based authentication is preferred over password authentication
// where the device firmware supports it. When using Docker secrets, store
// keys and passwords in mounted secret files rather than environment
// variables.
package sshutil
