// Command configctl is a small CLI for ad-hoc reads against a running
// configd server, built with cobra/pflag in the same shape as the rest
// of the ecosystem's CLI tooling.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/configwatch/configd/pkg/client"
)

func main() {
	var (
		endpoint string
		appID    string
		cluster  string
	)

	root := &cobra.Command{
		Use:   "configctl",
		Short: "Query a configd server for namespace properties",
	}
	root.PersistentFlags().StringVar(&endpoint, "endpoint", "http://127.0.0.1:8080", "configd base URL")
	root.PersistentFlags().StringVar(&appID, "app-id", "", "application id")
	root.PersistentFlags().StringVar(&cluster, "cluster", "default", "cluster name")

	getCmd := &cobra.Command{
		Use:   "get <namespace> <key>",
		Short: "Print the current value of a single property",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), endpoint, appID, cluster, args[0], args[1])
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump <namespace>",
		Short: "Print every key=value pair in a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd.Context(), endpoint, appID, cluster, args[0])
		},
	}

	root.AddCommand(getCmd, dumpCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient(endpoint, appID, cluster string) (*client.Client, error) {
	if appID == "" {
		return nil, fmt.Errorf("--app-id is required")
	}
	return client.New(client.Config{
		AppID:    appID,
		Cluster:  cluster,
		Endpoint: endpoint,
		Logger:   logr.Discard(),
	})
}

func runGet(ctx context.Context, endpoint, appID, cluster, namespace, key string) error {
	c, err := newClient(endpoint, appID, cluster)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ns, err := c.Namespace(ctx, namespace)
	if err != nil {
		return fmt.Errorf("looking up namespace %s: %w", namespace, err)
	}
	fmt.Println(ns.GetProperty(key, ""))
	return nil
}

func runDump(ctx context.Context, endpoint, appID, cluster, namespace string) error {
	c, err := newClient(endpoint, appID, cluster)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ns, err := c.Namespace(ctx, namespace)
	if err != nil {
		return fmt.Errorf("looking up namespace %s: %w", namespace, err)
	}
	for _, k := range ns.GetPropertyNames() {
		fmt.Printf("%s=%s\n", k, ns.GetProperty(k, ""))
	}
	return nil
}
