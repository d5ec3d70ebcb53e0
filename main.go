package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"github.com/vodloop/hlsfetch/clients"
	"github.com/vodloop/hlsfetch/config"
	"github.com/vodloop/hlsfetch/log"
	"github.com/vodloop/hlsfetch/pipeline"
	"github.com/vodloop/hlsfetch/sender"
	"github.com/vodloop/hlsfetch/store"
	"golang.org/x/sync/errgroup"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("hlsfetch", flag.ExitOnError)
	cli := config.DefaultCli()

	version := fs.Bool("version", false, "print application version")

	// directory layout
	fs.StringVar(&cli.DownloadDir, "download-dir", cli.DownloadDir, "Directory holding finished videos, covers and the download log")
	fs.StringVar(&cli.TmpDir, "tmp-dir", cli.TmpDir, "Directory holding in-flight playlists, keys and segments")
	fs.StringVar(&cli.LogDir, "log-dir", cli.LogDir, "Directory for log output")
	fs.StringVar(&cli.AssetsDir, "assets-dir", cli.AssetsDir, "Directory for static assets")
	fs.StringVar(&cli.ConfDir, "conf-dir", cli.ConfDir, "Directory holding persisted request headers")

	// engine parameters
	fs.StringVar(&cli.JobsFile, "jobs", "./jobs.json", "Path to the jobs file to execute")
	fs.StringVar(&cli.SenderAddr, "sender-addr", "127.0.0.1:8787", "Address to bind the sender API to. Empty disables it")
	var proxyURL *url.URL
	config.URLVarFlag(fs, &proxyURL, "proxy", "", "HTTP proxy URL for all origin traffic. Empty disables proxying")
	fs.IntVar(&cli.MaxJobs, "max-jobs", cli.MaxJobs, "Maximum number of jobs downloading at once")
	fs.IntVar(&cli.MaxSegmentConcurrency, "segment-concurrency", cli.MaxSegmentConcurrency, "Maximum in-flight segment requests per job")
	fs.IntVar(&cli.MaxRetries, "max-retries", cli.MaxRetries, "Attempt budget per request")
	fs.DurationVar(&cli.RetryWaitTime, "retry-wait", cli.RetryWaitTime, "Backoff base; attempt k waits retry-wait * 2^k")
	fs.DurationVar(&cli.ControlTimeout, "control-timeout", cli.ControlTimeout, "Timeout for playlist, key and cover requests")
	fs.DurationVar(&cli.SegmentTimeout, "segment-timeout", cli.SegmentTimeout, "Timeout for segment requests")
	fs.BoolVar(&cli.UseFFmpeg, "ffmpeg", cli.UseFFmpeg, "Merge with the ffmpeg concat demuxer instead of the in-process raw append")
	fs.IntVar(&cli.NotFoundLimit, "not-found-limit", cli.NotFoundLimit, "Playlist 404s tolerated before giving a job up")

	// request headers
	cookie := fs.String("cookie", "", "Cookie header value for origin requests")
	var extraHeaders map[string]string
	config.CommaMapFlag(fs, &extraHeaders, "headers", map[string]string{}, "Extra request headers as key=value pairs, e.g. Origin and Referer")

	// special parameters
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("HLSFETCH"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("hlsfetch version: %s\n", config.Version)
		return
	}

	if *verbosity != "" {
		err = vFlag.Value.Set(*verbosity)
		if err != nil {
			glog.Fatal(err)
		}
	}

	if proxyURL != nil && proxyURL.String() != "" {
		cli.ProxyURL = proxyURL.String()
	}

	if err := cli.EnsureDirs(); err != nil {
		glog.Fatalf("error creating directory layout: %s", err)
	}

	headers := config.NewHeaders()
	if err := headers.Load(cli.HeadersPath()); err != nil {
		glog.Fatalf("error loading persisted headers: %s", err)
	}
	for k, v := range extraHeaders {
		headers.Set(k, v)
	}
	if *cookie != "" {
		headers.SetCookie(*cookie)
	}
	if err := headers.Save(cli.HeadersPath()); err != nil {
		glog.Fatalf("error persisting headers: %s", err)
	}

	jobs, err := pipeline.LoadJobs(cli.JobsFile)
	if err != nil {
		glog.Fatalf("error loading jobs file: %s", err)
	}

	control, err := clients.NewControlClient(cli, headers)
	if err != nil {
		glog.Fatalf("error building control client: %s", err)
	}
	segmentClient, err := clients.NewSegmentClient(cli, headers)
	if err != nil {
		glog.Fatalf("error building segment client: %s", err)
	}

	tmp := store.NewTempStore(cli.TmpDir)
	info := store.NewDownloadInfo(cli.DownloadInfoPath())
	driver := pipeline.NewDriver(cli, control, segmentClient, tmp, info)
	coordinator := pipeline.NewCoordinator(cli, driver)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	if cli.SenderAddr != "" {
		group.Go(func() error {
			return sender.ListenAndServe(ctx, cli, coordinator, info)
		})
	}

	failed := 0
	group.Go(func() error {
		defer cancel()
		results := coordinator.Run(ctx, jobs)
		for id, jobErr := range results {
			if jobErr != nil {
				failed++
				log.LogError(id, "job did not complete", jobErr)
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		glog.Fatalf("error running download engine: %s", err)
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d jobs failed\n", failed, len(jobs))
		os.Exit(1)
	}
}
