package report

// htmlTemplate is the main HTML template for the report
const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Name}} - Load Test Report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f8fafc;
            --text-primary: #1e293b;
            --text-secondary: #64748b;
            --border-color: #e2e8f0;
            --accent-primary: #3b82f6;
            --accent-success: #22c55e;
            --accent-warning: #f59e0b;
            --accent-error: #ef4444;
            --shadow: 0 1px 3px rgba(0, 0, 0, 0.1);
        }
        [data-theme="dark"] {
            --bg-primary: #1e293b;
            --bg-secondary: #0f172a;
            --text-primary: #f1f5f9;
            --text-secondary: #94a3b8;
            --border-color: #334155;
            --shadow: 0 1px 3px rgba(0, 0, 0, 0.3);
        }
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: var(--bg-secondary);
            color: var(--text-primary);
            line-height: 1.6;
        }
        .container { max-width: 1400px; margin: 0 auto; padding: 2rem; }
        .card, .header, .section {
            background: var(--bg-primary);
            border-radius: 12px;
            box-shadow: var(--shadow);
        }
        .header {
            padding: 2rem;
            margin-bottom: 2rem;
            display: flex;
            justify-content: space-between;
            align-items: center;
            flex-wrap: wrap;
            gap: 1rem;
        }
        .header h1 { font-size: 1.75rem; }
        .meta { color: var(--text-secondary); font-size: 0.875rem; display: flex; gap: 1.5rem; flex-wrap: wrap; }
        .status { padding: 0.5rem 1.25rem; border-radius: 9999px; font-weight: 700; }
        .status.pass { background: rgba(34, 197, 94, 0.15); color: var(--accent-success); }
        .status.fail { background: rgba(239, 68, 68, 0.15); color: var(--accent-error); }
        .theme-toggle { background: none; border: 1px solid var(--border-color); border-radius: 8px; padding: 0.5rem; cursor: pointer; color: var(--text-primary); }
        .metrics-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 1rem; margin-bottom: 2rem; }
        .card { padding: 1.25rem; }
        .card .label { color: var(--text-secondary); font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.05em; }
        .card .value { font-size: 1.5rem; font-weight: 700; }
        .card .unit { font-size: 0.875rem; color: var(--text-secondary); margin-left: 0.25rem; }
        .section { padding: 1.5rem; margin-bottom: 2rem; }
        .section-title { font-size: 1.125rem; margin-bottom: 1rem; padding-bottom: 0.5rem; border-bottom: 1px solid var(--border-color); }
        .latency-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(110px, 1fr)); gap: 0.75rem; text-align: center; }
        .latency-grid .percentile { color: var(--text-secondary); font-size: 0.75rem; }
        .latency-grid .time { font-weight: 600; }
        .chart-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(500px, 1fr)); gap: 1.5rem; }
        .chart-title { font-weight: 600; margin-bottom: 0.5rem; }
        .chart-wrapper { position: relative; height: 260px; }
        table { width: 100%; border-collapse: collapse; font-size: 0.875rem; }
        th, td { padding: 0.6rem 0.75rem; text-align: left; border-bottom: 1px solid var(--border-color); }
        th { color: var(--text-secondary); font-weight: 600; font-size: 0.75rem; text-transform: uppercase; }
        td.num, th.num { text-align: right; font-variant-numeric: tabular-nums; }
        .pass { color: var(--accent-success); }
        .warn { color: var(--accent-warning); }
        .fail { color: var(--accent-error); }
        .muted { color: var(--text-secondary); }
        .banner { padding: 0.75rem 1rem; border-radius: 8px; margin-bottom: 1.5rem; background: rgba(239, 68, 68, 0.1); color: var(--accent-error); }
        .footer { text-align: center; color: var(--text-secondary); font-size: 0.75rem; padding: 1rem; }
        @media (max-width: 768px) {
            .container { padding: 1rem; }
            .chart-grid { grid-template-columns: 1fr; }
        }
    </style>
</head>
<body>
    <div class="container">
        <header class="header">
            <div>
                <h1>{{.Name}}</h1>
                {{if .Description}}<p class="muted">{{.Description}}</p>{{end}}
                <div class="meta">
                    <span>Started {{.StartTime.Format "2006-01-02 15:04:05"}}</span>
                    <span>Duration {{formatDuration .Duration}}</span>
                    <span>Target {{.BaseURL}}</span>
                    <span>Run {{.RunID}}</span>
                </div>
            </div>
            <div>
                <span class="status {{if .Passed}}pass{{else}}fail{{end}}">
                    {{if .Passed}}&#10003; PASSED{{else if .Aborted}}&#10007; ABORTED{{else}}&#10007; FAILED{{end}}
                </span>
                <button class="theme-toggle" onclick="toggleTheme()" title="Toggle dark mode">&#9681;</button>
            </div>
        </header>

        {{if .AbortReason}}<div class="banner">Aborted: {{.AbortReason}}</div>{{end}}
        {{if .Error}}<div class="banner">Error: {{.Error}}</div>{{end}}

        <div class="metrics-grid">
            <div class="card">
                <div class="label">Requests</div>
                <div class="value">{{formatNumber .Metrics.TotalRequests}}</div>
            </div>
            <div class="card">
                <div class="label">Throughput</div>
                <div class="value">{{printf "%.1f" .Metrics.RPS}}<span class="unit">req/s</span></div>
            </div>
            <div class="card">
                <div class="label">http_req_failed</div>
                <div class="value">{{percent .Metrics.ErrorRate}}<span class="unit">%</span></div>
            </div>
            <div class="card">
                <div class="label">P95 Latency</div>
                <div class="value">{{formatLatency .Metrics.Latency.P95}}</div>
            </div>
            <div class="card">
                <div class="label">Iterations</div>
                <div class="value">{{formatNumber .Metrics.Iterations}}</div>
            </div>
            <div class="card">
                <div class="label">Dropped Iterations</div>
                <div class="value">{{formatNumber .Metrics.DroppedIterations}}</div>
            </div>
            <div class="card">
                <div class="label">Peak VUs</div>
                <div class="value">{{.Metrics.MaxVUs}}</div>
            </div>
            <div class="card">
                <div class="label">Data Received</div>
                <div class="value">{{formatBytes .Metrics.TotalBytes}}</div>
            </div>
        </div>

        <section class="section">
            <h2 class="section-title">Latency Statistics</h2>
            <div class="latency-grid">
                <div><div class="percentile">Min</div><div class="time">{{formatLatency .Metrics.Latency.Min}}</div></div>
                <div><div class="percentile">P50</div><div class="time">{{formatLatency .Metrics.Latency.P50}}</div></div>
                <div><div class="percentile">P90</div><div class="time">{{formatLatency .Metrics.Latency.P90}}</div></div>
                <div><div class="percentile">P95</div><div class="time">{{formatLatency .Metrics.Latency.P95}}</div></div>
                <div><div class="percentile">P99</div><div class="time">{{formatLatency .Metrics.Latency.P99}}</div></div>
                <div><div class="percentile">Max</div><div class="time">{{formatLatency .Metrics.Latency.Max}}</div></div>
                <div><div class="percentile">Mean</div><div class="time">{{formatLatency .Metrics.Latency.Mean}}</div></div>
                <div><div class="percentile">Std Dev</div><div class="time">{{formatLatency .Metrics.Latency.StdDev}}</div></div>
            </div>
            {{with .Throughput}}
            <p class="muted" style="margin-top: 1rem;">
                Interval throughput: mean {{printf "%.1f" .Mean}}/s, median {{printf "%.1f" .Median}}/s,
                p90 {{printf "%.1f" .P90}}/s, max {{printf "%.1f" .Max}}/s, coefficient of variation {{printf "%.2f" .CV}}
            </p>
            {{end}}
        </section>

        {{if .TimeSeries}}
        <section class="section">
            <h2 class="section-title">Time Series</h2>
            <div class="chart-grid">
                <div><div class="chart-title">Requests Per Second</div><div class="chart-wrapper"><canvas id="rpsChart"></canvas></div></div>
                <div><div class="chart-title">Response Latency (ms)</div><div class="chart-wrapper"><canvas id="latencyChart"></canvas></div></div>
                <div><div class="chart-title">Active Virtual Users</div><div class="chart-wrapper"><canvas id="vusChart"></canvas></div></div>
                <div><div class="chart-title">Failed Requests and Dropped Iterations</div><div class="chart-wrapper"><canvas id="errorChart"></canvas></div></div>
                <div><div class="chart-title">Latency Distribution</div><div class="chart-wrapper"><canvas id="histChart"></canvas></div></div>
            </div>
        </section>
        {{end}}

        {{if .Scenarios}}
        <section class="section">
            <h2 class="section-title">Scenarios</h2>
            <table>
                <thead>
                    <tr>
                        <th>Scenario</th><th>Executor</th><th>Load</th>
                        <th class="num">Start</th><th class="num">Duration</th><th class="num">Max VUs</th>
                        <th class="num">Requests</th><th class="num">Failed</th><th class="num">Iterations</th>
                        <th class="num">Dropped</th><th class="num">Mean</th><th class="num">P95</th>
                    </tr>
                </thead>
                <tbody>
                    {{range .Scenarios}}
                    <tr>
                        <td>{{.Name}}</td>
                        <td>{{.Executor}}</td>
                        <td class="muted">{{if .Skipped}}skipped{{else}}{{.Description}}{{end}}</td>
                        <td class="num">{{formatDuration .StartOffset}}</td>
                        <td class="num">{{formatDuration .Duration}}</td>
                        <td class="num">{{.MaxVUs}}</td>
                        <td class="num">{{formatNumber .Requests}}</td>
                        <td class="num">{{percent .ErrorRate}}%</td>
                        <td class="num">{{formatNumber .Iterations}}</td>
                        <td class="num{{if .DroppedIterations}} warn{{end}}">{{formatNumber .DroppedIterations}}</td>
                        <td class="num">{{formatLatency .Latency.Mean}}</td>
                        <td class="num">{{formatLatency .Latency.P95}}</td>
                    </tr>
                    {{if .Error}}<tr><td colspan="12" class="fail">Error: {{.Error}}</td></tr>{{end}}
                    {{end}}
                </tbody>
            </table>
        </section>
        {{end}}

        {{if .Requests}}
        <section class="section">
            <h2 class="section-title">Requests</h2>
            <table>
                <thead>
                    <tr>
                        <th>Request</th><th class="num">Count</th><th class="num">Min</th><th class="num">Mean</th>
                        <th class="num">P50</th><th class="num">P95</th><th class="num">P99</th><th class="num">Max</th>
                    </tr>
                </thead>
                <tbody>
                    {{range $name, $stats := .Requests}}
                    <tr>
                        <td>{{$name}}</td>
                        <td class="num">{{formatNumber $stats.Count}}</td>
                        <td class="num">{{formatLatency $stats.Min}}</td>
                        <td class="num">{{formatLatency $stats.Mean}}</td>
                        <td class="num">{{formatLatency $stats.P50}}</td>
                        <td class="num">{{formatLatency $stats.P95}}</td>
                        <td class="num">{{formatLatency $stats.P99}}</td>
                        <td class="num">{{formatLatency $stats.Max}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </section>
        {{end}}

        {{if .StatusCodes}}
        <section class="section">
            <h2 class="section-title">Status Codes</h2>
            <table>
                <thead><tr><th>Status</th><th class="num">Count</th><th class="num">Share</th></tr></thead>
                <tbody>
                    {{range .StatusCodes}}
                    <tr>
                        <td class="{{statusClass .Code}}">{{if eq .Code 0}}transport error{{else}}{{.Code}}{{end}}</td>
                        <td class="num">{{formatNumber .Count}}</td>
                        <td class="num">{{printf "%.2f" .Percent}}%</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </section>
        {{end}}

        {{if .Checks}}
        <section class="section">
            <h2 class="section-title">Checks</h2>
            <table>
                <thead><tr><th></th><th>Check</th><th class="num">Passes</th><th class="num">Fails</th><th class="num">Rate</th></tr></thead>
                <tbody>
                    {{range .Checks}}
                    <tr>
                        <td class="{{if .Fails}}fail{{else}}pass{{end}}">{{if .Fails}}&#10007;{{else}}&#10003;{{end}}</td>
                        <td>{{.Name}}</td>
                        <td class="num">{{formatNumber .Passes}}</td>
                        <td class="num">{{formatNumber .Fails}}</td>
                        <td class="num">{{percent .Rate}}%</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </section>
        {{end}}

        {{if .Thresholds}}
        <section class="section">
            <h2 class="section-title">Thresholds</h2>
            <table>
                <thead><tr><th></th><th>Metric</th><th>Expression</th><th class="num">Actual</th><th></th></tr></thead>
                <tbody>
                    {{range .Thresholds}}
                    <tr>
                        <td class="{{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
                        <td>{{.Metric}}</td>
                        <td><code>{{.Expression}}</code></td>
                        <td class="num">{{printf "%.4g" .Value}}</td>
                        <td class="muted">{{if .AbortOnFail}}abortOnFail {{end}}{{.Message}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </section>
        {{end}}

        {{if .Phases}}
        <section class="section">
            <h2 class="section-title">Phase Changes</h2>
            <table>
                <thead><tr><th>Time</th><th>Scenario</th><th>Phase</th><th class="num">Requests so far</th></tr></thead>
                <tbody>
                    {{range .Phases}}
                    <tr>
                        <td>{{.Timestamp.Format "15:04:05.000"}}</td>
                        <td>{{.Scenario}}</td>
                        <td>{{.Phase}}</td>
                        <td class="num">{{formatNumber .Requests}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </section>
        {{end}}

        <footer class="footer">
            <p>Generated by volley &middot; {{.EndTime.Format "2006-01-02 15:04:05 MST"}}</p>
        </footer>
    </div>

    <script>
        function toggleTheme() {
            const html = document.documentElement;
            const next = html.getAttribute('data-theme') === 'dark' ? 'light' : 'dark';
            html.setAttribute('data-theme', next);
            localStorage.setItem('theme', next);
            createCharts();
        }
        document.documentElement.setAttribute('data-theme', localStorage.getItem('theme') || 'light');

        function getChartColors() {
            const isDark = document.documentElement.getAttribute('data-theme') === 'dark';
            return {
                text: isDark ? '#f1f5f9' : '#1e293b',
                grid: isDark ? '#334155' : '#e2e8f0',
                primary: '#3b82f6',
                success: '#22c55e',
                warning: '#f59e0b',
                error: '#ef4444',
                purple: '#8b5cf6',
            };
        }

        const timeSeriesData = {{.TimeSeriesJSON}};
        const histogramData = {{.HistogramJSON}};

        const labels = timeSeriesData.map(d => Math.round(d.offset) + 's');
        let charts = [];

        function lineChart(id, datasets, colors) {
            const el = document.getElementById(id);
            if (!el) return;
            charts.push(new Chart(el.getContext('2d'), {
                type: 'line',
                data: { labels: labels, datasets: datasets },
                options: {
                    responsive: true,
                    maintainAspectRatio: false,
                    interaction: { mode: 'index', intersect: false },
                    plugins: {
                        legend: { labels: { color: colors.text, usePointStyle: true } },
                        tooltip: {
                            callbacks: { afterTitle: items => 'phase: ' + timeSeriesData[items[0].dataIndex].phase }
                        }
                    },
                    scales: {
                        x: { ticks: { color: colors.text }, grid: { color: colors.grid } },
                        y: { ticks: { color: colors.text }, grid: { color: colors.grid }, beginAtZero: true }
                    }
                }
            }));
        }

        function series(label, data, color, fill) {
            return { label: label, data: data, borderColor: color, backgroundColor: fill ? color + '20' : 'transparent', fill: !!fill, tension: 0.3, pointRadius: 0, borderWidth: 2 };
        }

        function createCharts() {
            charts.forEach(c => c.destroy());
            charts = [];
            const colors = getChartColors();

            lineChart('rpsChart', [series('Requests/sec', timeSeriesData.map(d => d.intervalRPS), colors.primary, true)], colors);
            lineChart('latencyChart', [
                series('P50', timeSeriesData.map(d => d.latencyP50), colors.success),
                series('P95', timeSeriesData.map(d => d.latencyP95), colors.warning),
                series('P99', timeSeriesData.map(d => d.latencyP99), colors.error),
            ], colors);
            lineChart('vusChart', [series('VUs', timeSeriesData.map(d => d.activeVUs), colors.purple, true)], colors);
            lineChart('errorChart', [
                series('Failed %', timeSeriesData.map(d => d.intervalErrorRate * 100), colors.error, true),
                series('Dropped', timeSeriesData.map(d => d.intervalDropped), colors.warning),
            ], colors);

            const hist = document.getElementById('histChart');
            if (hist && histogramData.length) {
                charts.push(new Chart(hist.getContext('2d'), {
                    type: 'bar',
                    data: {
                        labels: histogramData.map(b => b.min.toFixed(1) + '-' + b.max.toFixed(1) + 'ms'),
                        datasets: [{ label: 'Requests', data: histogramData.map(b => b.count), backgroundColor: colors.primary }]
                    },
                    options: {
                        responsive: true,
                        maintainAspectRatio: false,
                        plugins: { legend: { display: false } },
                        scales: {
                            x: { ticks: { color: colors.text }, grid: { display: false } },
                            y: { ticks: { color: colors.text }, grid: { color: colors.grid }, beginAtZero: true }
                        }
                    }
                }));
            }
        }

        if (typeof Chart !== 'undefined') {
            createCharts();
        }
    </script>
</body>
</html>
`
