package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/annis-souames/cabernet/internal/provision"
	"github.com/annis-souames/cabernet/pkg/cabernet"
)

func newDemoCmd() *cobra.Command {
	var (
		gatewayIP string
		subnet    string
		ues       string
		dropAfter int
		netlink   bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Runs the create/poll/send/delete loop from the original reference driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), gatewayIP, subnet, strings.Split(ues, ","), dropAfter, netlink)
		},
	}
	cmd.Flags().StringVar(&gatewayIP, "gateway", "10.0.0.3", "gateway UE address, empty to run without internet")
	cmd.Flags().StringVar(&subnet, "subnet", "10.0.0.0/24", "subnet served by the gateway")
	cmd.Flags().StringVar(&ues, "ues", "10.0.0.4,10.0.0.5", "comma-separated UE addresses to create")
	cmd.Flags().IntVar(&dropAfter, "drop-after", 5, "delete the last created UE after this many polled frames (0 disables)")
	cmd.Flags().BoolVar(&netlink, "netlink", false, "provision links/addresses/routes via in-process netlink instead of shelling out to ip")
	return cmd
}

// runDemo mirrors original_source/src/layer3/src/main.rs: build a router
// with a gateway, create UEs, then loop polling inbound frames and
// bouncing each one straight back through send_frame, exactly like the
// reference driver's "echo whatever arrives" behavior.
func runDemo(ctx context.Context, gatewayIP, subnet string, ueIPs []string, dropAfter int, netlink bool) error {
	log := logrus.StandardLogger()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runner provision.Runner
	if netlink {
		runner = provision.NewNetlinkRunner(log)
	}

	var (
		c   *cabernet.Cabernet
		err error
	)
	if gatewayIP != "" {
		c, err = cabernet.WithInternet(ctx, gatewayIP, subnet, log, runner)
		if err != nil {
			return err
		}
	} else {
		c = cabernet.New(log, runner)
	}
	defer func() { _ = c.Close(ctx) }()

	for _, ip := range ueIPs {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if err := c.CreateUE(ctx, ip); err != nil {
			return err
		}
		log.WithField("ue", ip).Info("created ue")
	}

	lastUE := ""
	for i := len(ueIPs) - 1; i >= 0; i-- {
		if strings.TrimSpace(ueIPs[i]) != "" {
			lastUE = strings.TrimSpace(ueIPs[i])
			break
		}
	}

	polled := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, ok, perr := c.PollFrame()
		if perr != nil {
			log.WithError(perr).Warn("poll_frame failed")
			continue
		}
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		polled++
		log.WithField("bytes", len(frame)).Info("got frame")
		if _, serr := c.SendFrame(frame); serr != nil {
			log.WithError(serr).Warn("send_frame failed")
		}

		if dropAfter > 0 && polled == dropAfter && lastUE != "" {
			log.WithField("ue", lastUE).Infof("deleting after %d frames", dropAfter)
			if err := c.DeleteUE(ctx, lastUE); err != nil {
				log.WithError(err).Warn("delete_ue failed")
			}
			lastUE = ""
		}
	}
}
