package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Animal Health Monitoring</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <h1 class="title">Animal Health Monitoring</h1>
            <span class="badge badge-secondary" id="status-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel">
                <div id="video-panel">
                    <img id="stream" src="/stream" alt="Live camera feed with detection overlay">
                </div>
                <p class="footer-note" id="frame-info"></p>
            </div>

            <div class="panel">
                <h3 id="temperature">Animal Temperature: Unavailable&#127777;</h3>
                <button type="button" id="toggle" class="btn btn-primary" disabled>Start Detection</button>
                <div id="loading" class="loading">Loading model...</div>
                <div id="error" class="alert alert-danger hidden"></div>
                <div id="alert" class="alert alert-danger hidden"></div>

                <div id="results">
                    <p id="empty-message">No Animal detected yet.</p>
                    <div id="results-table" class="hidden">
                        <h4 class="text-center">View Results</h4>
                        <table class="table">
                            <thead>
                                <tr>
                                    <th>Checking Process</th>
                                    <th>Bounding Box</th>
                                    <th>Evalution</th>
                                </tr>
                            </thead>
                            <tbody id="detections"></tbody>
                        </table>
                    </div>
                </div>
            </div>
        </div>
    </div>
    <script src="/assets/monitor.js"></script>
</body>
</html>
`
